package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"file-backup-sync/internal/backup"
	"file-backup-sync/internal/display"
	apperrors "file-backup-sync/internal/errors"
)

type runOptions struct {
	source         string
	parallelism    int
	bytesPerSecond int64
	exclude        []string
	noDedup        bool
	compression    string
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"backup"},
		Short:   "Back up the source directory to the destination",
		Long: `Back up the source directory to the configured destination.

Files are compared with the fingerprints recorded by the previous run and
only changed files are transferred. Interrupting the command (Ctrl+C)
cancels the run; files already backed up are kept and the next run
continues from there.

Examples:
  # Run with the configuration file
  file-backup-sync run --config backup.yaml

  # Back up a different directory with 8 workers
  file-backup-sync run --config backup.yaml --source /srv/www --parallelism 8

  # Disable deduplication and use fast compression
  file-backup-sync run --config backup.yaml --no-dedup --compression lz4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, global, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.source, "source", "", "directory to back up")
	flags.IntVar(&opts.parallelism, "parallelism", 0, "number of files processed concurrently")
	flags.Int64Var(&opts.bytesPerSecond, "bytes-per-second", 0, "upload throughput ceiling (0 = unlimited)")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "glob patterns to exclude (repeatable)")
	flags.BoolVar(&opts.noDedup, "no-dedup", false, "disable content deduplication")
	flags.StringVar(&opts.compression, "compression", "", "compression algorithm (none, gzip, lz4, zstd)")

	return cmd
}

// overrides turns the explicitly set flags into config overrides
func (o *runOptions) overrides(cmd *cobra.Command) func(*backup.BackupSystemConfig) {
	flags := cmd.Flags()
	return func(c *backup.BackupSystemConfig) {
		if flags.Changed("source") {
			c.Source = o.source
		}
		if flags.Changed("parallelism") {
			c.Parallelism = o.parallelism
		}
		if flags.Changed("bytes-per-second") {
			c.BytesPerSecond = o.bytesPerSecond
		}
		if flags.Changed("exclude") {
			c.Exclude = append(c.Exclude, o.exclude...)
		}
		if flags.Changed("no-dedup") {
			c.Dedup.Enabled = !o.noDedup
		}
		if flags.Changed("compression") {
			algorithm := backup.CompressionType(strings.ToUpper(o.compression))
			c.Compression.Enabled = algorithm != backup.CompressionTypeNone
			if c.Compression.Enabled && c.Compression.Algorithm != algorithm {
				// levels are algorithm specific; take the new algorithm's default
				c.Compression.Algorithm = algorithm
				c.Compression.Level = 0
			}
		}
	}
}

func runBackup(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	ctx := cmd.Context()

	s, err := global.openSession(cmd, opts.overrides(cmd))
	if err != nil {
		return err
	}
	defer s.Close()

	displayConfig, err := global.displayConfig(cmd)
	if err != nil {
		return err
	}

	configurePassphrasePrompt(&s.config.Encryption, cmd.ErrOrStderr())
	backupConfig, err := s.config.ToBackupConfig()
	if err != nil {
		return fmt.Errorf("failed to resolve encryption key: %w", err)
	}

	if err := backup.CheckHealth(ctx, s.storage); err != nil {
		return fmt.Errorf("destination is not usable: %w", err)
	}

	dedup, err := s.openDedupStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open dedup index: %w", err)
	}

	metrics := backup.NewMetricsCollector(backup.MetricsConfig{Logger: s.logger, Storage: s.storage})
	if err := metrics.Load(ctx); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Discarding unreadable run metrics")
	}

	listener := display.NewConsoleListener(displayConfig)
	orchestrator := backup.NewOrchestrator(
		backup.WithLogger(s.logger),
		backup.WithAuditLog(s.config.Logging.AuditFile),
	)

	startedAt := time.Now().UTC()
	job := orchestrator.Execute(ctx, backupConfig, s.storage, dedup,
		backup.NewStorageMetadataStore(s.storage, s.logger), listener)

	shutdown := apperrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		s.logger.Warn("Interrupt received, cancelling backup")
		job.Cancel()
		return nil
	})
	shutdown.Start()
	result := job.Wait()
	shutdown.Stop()

	stats := job.Stats()
	if !displayConfig.QuietMode || result.Status != backup.JobStatusCompleted {
		listener.Finish(result, stats)
	}
	if failed := listener.Failed(); len(failed) > 0 {
		s.logger.WithField("paths", failed).Warn("Files were not backed up")
	}

	metrics.RecordRun(backup.RunRecord{
		JobID:      job.ID(),
		Status:     result.Status,
		Message:    result.Message,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Stats:      stats,
	})
	// the job context may already be cancelled; the record is still written
	done := s.logger.LogOperationStart("save_run_metrics", map[string]interface{}{"job_id": job.ID()})
	err = metrics.Save(context.WithoutCancel(ctx))
	done(err)

	switch result.Status {
	case backup.JobStatusCompleted:
		return nil
	case backup.JobStatusCancelled:
		return fmt.Errorf("backup cancelled: %s", result.Message)
	default:
		return fmt.Errorf("backup failed: %s", result.Message)
	}
}

// configurePassphrasePrompt asks for the passphrase on the terminal when the
// passphrase key source is selected but its variable is unset.
func configurePassphrasePrompt(config *backup.EncryptionConfig, prompt io.Writer) {
	if !config.Enabled || config.KeySource != backup.KeySourcePassphrase || config.KeyRetriever != nil {
		return
	}
	if os.Getenv(config.KeyEnvVar) != "" {
		return
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}

	config.KeyRetriever = func() ([]byte, error) {
		return readPassphrase(fd, prompt)
	}
}

func readPassphrase(fd int, prompt io.Writer) ([]byte, error) {
	fmt.Fprint(prompt, "Encryption passphrase: ")
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to read passphrase", err)
	}
	if len(passphrase) == 0 {
		return nil, backup.NewEncryptionError("passphrase must not be empty", nil)
	}
	return passphrase, nil
}
