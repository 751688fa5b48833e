package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"file-backup-sync/internal/backup"
	"file-backup-sync/internal/display"
)

// statusReport is the machine-readable form of the status command output
type statusReport struct {
	Destination  string                 `json:"destination" yaml:"destination"`
	Provider     string                 `json:"provider" yaml:"provider"`
	Healthy      bool                   `json:"healthy" yaml:"healthy"`
	HealthError  string                 `json:"health_error,omitempty" yaml:"health_error,omitempty"`
	Storage      map[string]interface{} `json:"storage" yaml:"storage"`
	FilesTracked int                    `json:"files_tracked" yaml:"files_tracked"`
	LastRun      *backup.RunRecord      `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	Summary      backup.ReportSummary   `json:"summary" yaml:"summary"`
}

func newStatusCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the backup destination",
		Long: `Show the health of the destination, the number of files recorded by the
last successful run and the history of previous runs.

Examples:
  file-backup-sync status --config backup.yaml
  file-backup-sync status --config backup.yaml --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, global)
		},
	}
}

func runStatus(cmd *cobra.Command, global *globalOptions) error {
	ctx := cmd.Context()

	s, err := global.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	displayConfig, err := global.displayConfig(cmd)
	if err != nil {
		return err
	}

	report := statusReport{
		Destination: s.config.Destination,
		Provider:    string(s.config.Storage.Provider),
		Healthy:     true,
		Storage:     backup.DescribeStorage(s.storage),
	}
	if err := backup.CheckHealth(ctx, s.storage); err != nil {
		report.Healthy = false
		report.HealthError = err.Error()
	}

	metadata, err := backup.NewStorageMetadataStore(s.storage, s.logger).Load(ctx, s.config.Destination)
	if err != nil {
		return fmt.Errorf("failed to read backup metadata: %w", err)
	}
	report.FilesTracked = len(metadata)

	metrics := backup.NewMetricsCollector(backup.MetricsConfig{Logger: s.logger, Storage: s.storage})
	if err := metrics.Load(ctx); err != nil {
		return fmt.Errorf("failed to read run metrics: %w", err)
	}
	if last, ok := metrics.LastRun(); ok {
		report.LastRun = &last
	}
	report.Summary = metrics.GenerateSummary()

	writer := display.NewReportWriter(displayConfig)
	return writer.Write(buildStatusReport(report, writer.Colors().Theme()))
}

func buildStatusReport(status statusReport, theme display.ColorTheme) *display.Report {
	report := &display.Report{Title: "Backup status", Data: status}

	destination := report.AddSection("Destination").
		Add("Location", status.Destination).
		Add("Provider", status.Provider)
	if status.Healthy {
		destination.AddColored("Health", "ok", theme.Success)
	} else {
		destination.AddColored("Health", status.HealthError, theme.Error)
	}
	keys := make([]string, 0, len(status.Storage))
	for key := range status.Storage {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if key == "provider" {
			continue
		}
		destination.Add(key, status.Storage[key])
	}
	destination.Add("Files tracked", status.FilesTracked)

	last := report.AddSection("Last run")
	if status.LastRun == nil {
		last.AddItem("No runs recorded yet")
	} else {
		run := status.LastRun
		clr := theme.Success
		switch run.Status {
		case backup.JobStatusCancelled:
			clr = theme.Warning
		case backup.JobStatusFailed:
			clr = theme.Error
		}
		last.Add("Job", run.JobID).
			AddColored("Status", run.Status, clr).
			Add("Message", run.Message).
			Add("Started", run.StartedAt.Local().Format(time.RFC3339)).
			Add("Duration", run.Duration().Round(time.Millisecond)).
			Add("Uploaded", run.Stats.FilesUploaded).
			Add("Deduplicated", run.Stats.FilesDeduplicated).
			Add("Unchanged", run.Stats.FilesUnchanged).
			Add("Skipped", run.Stats.FilesSkipped).
			Add("Failed", run.Stats.FilesFailed).
			Add("Transferred", fmt.Sprintf("%s read, %s stored",
				display.FormatBytes(run.Stats.BytesRead), display.FormatBytes(run.Stats.BytesStored)))
	}

	summary := status.Summary
	history := report.AddSection("History").
		Add("Runs", summary.TotalRuns).
		Add("Success rate", fmt.Sprintf("%.1f%%", summary.RunSuccessRate*100)).
		Add("Compression ratio", fmt.Sprintf("%.2f", summary.CompressionRatio)).
		Add("Dedup rate", fmt.Sprintf("%.1f%%", summary.DedupRate*100))
	for _, recommendation := range summary.Recommendations {
		history.AddItem(recommendation)
	}

	return report
}
