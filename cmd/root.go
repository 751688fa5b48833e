package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"file-backup-sync/internal/backup"
	"file-backup-sync/internal/display"
	apperrors "file-backup-sync/internal/errors"
	"file-backup-sync/internal/logging"
)

const envPrefix = "FILE_BACKUP_SYNC"

// globalOptions holds the flags shared by every subcommand
type globalOptions struct {
	cfgFile string
	verbose bool
	quiet   bool
	logFile string

	noColor      bool
	theme        string
	outputFormat string
	noIcons      bool
	noProgress   bool

	v *viper.Viper
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "file-backup-sync",
		Short: "Incremental, deduplicating file backups",
		Long: `file-backup-sync copies a directory tree to a backup destination.

Only files whose content changed since the previous run are transferred.
Payloads can be compressed and encrypted, and identical content is stored
once per destination. Destinations include local directories, Amazon S3,
Azure Blob Storage and Google Cloud Storage.

Examples:
  # Write a starter configuration
  file-backup-sync config init backup.yaml

  # Run a backup using the configuration
  file-backup-sync run --config backup.yaml

  # Override the source and throttle uploads to 1 MiB/s
  file-backup-sync run --config backup.yaml --source /srv/www --bytes-per-second 1048576

  # Inspect the destination as JSON
  file-backup-sync status --config backup.yaml --format json`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose && opts.quiet {
				return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
			}
			return opts.initConfig(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.file-backup-sync.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")

	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.StringVar(&opts.theme, "theme", "dark", "color theme (dark, light, high-contrast, plain)")
	flags.StringVar(&opts.outputFormat, "format", "table", "output format for reports (table, json, yaml)")
	flags.BoolVar(&opts.noIcons, "no-icons", false, "disable Unicode icons")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")

	opts.v.BindPFlag("display.theme", flags.Lookup("theme"))
	opts.v.BindPFlag("display.output_format", flags.Lookup("format"))

	rootCmd.AddCommand(
		newRunCommand(opts),
		newStatusCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)

	return rootCmd
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		// classified errors carry a hint on top of cobra's "Error:" line
		if apperrors.GetErrorType(err) != apperrors.ErrorTypeUnknown {
			fmt.Fprintln(os.Stderr, apperrors.FormatUserError(err))
		}
		os.Exit(1)
	}
}

// initConfig locates the config file and reads the display section with
// viper. The backup settings themselves are parsed by backup.ConfigLoader.
func (o *globalOptions) initConfig(stderr io.Writer) error {
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			o.v.AddConfigPath(home)
		}
		o.v.AddConfigPath(".")
		o.v.SetConfigType("yaml")
		o.v.SetConfigName(".file-backup-sync")
	}

	o.v.SetEnvPrefix(envPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	o.v.AutomaticEnv()

	if err := o.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if o.cfgFile != "" {
			if _, statErr := os.Stat(o.cfgFile); os.IsNotExist(statErr) {
				return fmt.Errorf("config file %s does not exist", o.cfgFile)
			}
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if o.verbose {
		fmt.Fprintln(stderr, "Using config file:", o.v.ConfigFileUsed())
	}
	return nil
}

// configPath returns the file the backup settings are read from, or "" when
// only the environment is used.
func (o *globalOptions) configPath() string {
	return o.v.ConfigFileUsed()
}

// loadBackupConfig layers the config file, BACKUP_* variables and the given
// flag overrides into a validated configuration.
func (o *globalOptions) loadBackupConfig(overrides ...func(*backup.BackupSystemConfig)) (*backup.BackupSystemConfig, error) {
	loader := backup.NewConfigLoader(o.configPath())
	for _, override := range overrides {
		loader.AddOverride(override)
	}
	loader.AddOverride(func(c *backup.BackupSystemConfig) {
		switch {
		case o.verbose:
			c.Logging.Level = string(logging.LogLevelVerbose)
		case o.quiet:
			c.Logging.Level = string(logging.LogLevelQuiet)
		}
		if o.logFile != "" {
			c.Logging.File = o.logFile
		}
	})

	config, err := loader.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return config, nil
}

// newLogger builds the process logger from the logging section
func newLogger(config backup.LoggingConfig, stderr io.Writer) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:   logging.LogLevel(config.Level),
		Output:  stderr,
		Format:  config.Format,
		LogFile: config.File,
	})
}

// displayConfig merges the display section of the config file with the
// display flags. Inverted flags only apply when set explicitly.
func (o *globalOptions) displayConfig(cmd *cobra.Command) (*display.DisplayConfig, error) {
	config := display.DefaultDisplayConfig()
	if err := o.v.UnmarshalKey("display", config); err != nil {
		return nil, fmt.Errorf("failed to read display configuration: %w", err)
	}
	// bound flags are not merged into a parent key by UnmarshalKey
	config.Theme = o.v.GetString("display.theme")
	config.OutputFormat = o.v.GetString("display.output_format")
	config.Writer = cmd.OutOrStdout()
	config.VerboseMode = config.VerboseMode || o.verbose
	config.QuietMode = config.QuietMode || o.quiet

	flags := cmd.Flags()
	if flags.Changed("no-color") {
		config.ColorEnabled = !o.noColor
	}
	if flags.Changed("no-icons") {
		config.UseIcons = !o.noIcons
	}
	if flags.Changed("no-progress") {
		config.ShowProgress = !o.noProgress
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
