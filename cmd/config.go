package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"file-backup-sync/internal/backup"
	"file-backup-sync/internal/display"
)

func newConfigCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate and check configuration files",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(global))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented sample configuration",
		Long: `Write a commented sample configuration to path, or to stdout when no path
is given. An existing file is only replaced with --force.

Examples:
  file-backup-sync config init > backup.yaml
  file-backup-sync config init /etc/file-backup-sync.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := backup.GenerateDefaultConfigYAML()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(sample)
				return err
			}

			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := os.WriteFile(path, sample, 0600); err != nil {
				return fmt.Errorf("failed to write configuration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// configSummary is the effective configuration without secrets
type configSummary struct {
	ConfigFile  string `json:"config_file" yaml:"config_file"`
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	Parallelism int    `json:"parallelism" yaml:"parallelism"`
	Throughput  string `json:"throughput_limit" yaml:"throughput_limit"`
	Compression string `json:"compression" yaml:"compression"`
	Encryption  string `json:"encryption" yaml:"encryption"`
	Dedup       string `json:"dedup" yaml:"dedup"`
}

func newConfigValidateCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without running a backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := global.loadBackupConfig()
			if err != nil {
				return err
			}
			displayConfig, err := global.displayConfig(cmd)
			if err != nil {
				return err
			}

			compression := "disabled"
			if config.Compression.Enabled {
				compression = fmt.Sprintf("%s (level %d)", config.Compression.Algorithm, config.Compression.Level)
			}
			encryption := "disabled"
			if config.Encryption.Enabled {
				encryption = "AES-256-GCM, key from " + config.Encryption.KeySource
			}
			dedup := "disabled"
			if config.Dedup.Enabled {
				dedup = config.Dedup.Backend
			}

			source := global.configPath()
			if source == "" {
				source = "environment only"
			}

			summary := configSummary{
				ConfigFile:  source,
				Source:      config.Source,
				Destination: config.Destination,
				Parallelism: config.Parallelism,
				Throughput:  throughputLabel(config.BytesPerSecond),
				Compression: compression,
				Encryption:  encryption,
				Dedup:       dedup,
			}

			report := &display.Report{Title: "Configuration is valid", Data: summary}
			report.AddSection("Settings").
				Add("Config file", summary.ConfigFile).
				Add("Source", summary.Source).
				Add("Destination", summary.Destination).
				Add("Parallelism", summary.Parallelism).
				Add("Throughput limit", summary.Throughput).
				Add("Compression", summary.Compression).
				Add("Encryption", summary.Encryption).
				Add("Dedup", summary.Dedup)
			return display.NewReportWriter(displayConfig).Write(report)
		},
	}
}

func throughputLabel(bytesPerSecond int64) string {
	if bytesPerSecond <= 0 {
		return "unlimited"
	}
	return display.FormatBytes(bytesPerSecond) + "/s"
}
