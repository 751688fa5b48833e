package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"file-backup-sync/internal/backup"
	"file-backup-sync/internal/logging"
)

// session holds the collaborators a command needs for one destination
type session struct {
	config  *backup.BackupSystemConfig
	logger  *logging.Logger
	storage backup.StorageProvider
	closers []func() error
}

// openSession loads the configuration, builds the logger and connects to
// the destination.
func (o *globalOptions) openSession(cmd *cobra.Command, overrides ...func(*backup.BackupSystemConfig)) (*session, error) {
	config, err := o.loadBackupConfig(overrides...)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(config.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	storage, err := backup.NewStorageProviderFactory().CreateStorageProvider(cmd.Context(), config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s storage: %w", config.Storage.Provider, err)
	}

	s := &session{config: config, logger: logger, storage: storage}
	if closer, ok := storage.(io.Closer); ok {
		s.closers = append(s.closers, closer.Close)
	}
	return s, nil
}

// openDedupStore returns the configured dedup index. The memory index is
// seeded from the destination; the orchestrator flushes it back after the
// run. With dedup disabled the index is still opened when configured, so
// entries for payloads the run overwrites are dropped; nil means there is
// no index at all.
func (s *session) openDedupStore(ctx context.Context) (backup.DedupStore, error) {
	dedup := s.config.Dedup
	if !dedup.Enabled {
		switch dedup.Backend {
		case backup.DedupBackendMemory:
		case backup.DedupBackendSQLite, backup.DedupBackendMySQL:
			if dedup.DSN == "" {
				return nil, nil
			}
		default:
			return nil, nil
		}
	}

	switch dedup.Backend {
	case backup.DedupBackendMemory:
		store := backup.NewMemoryDedupStore()
		if err := store.Load(ctx, s.storage); err != nil {
			return nil, err
		}
		s.logger.WithField("entries", store.Len()).Debug("Dedup index loaded from destination")
		return store, nil

	case backup.DedupBackendSQLite, backup.DedupBackendMySQL:
		dialect := backup.SQLDialectSQLite
		if dedup.Backend == backup.DedupBackendMySQL {
			dialect = backup.SQLDialectMySQL
		}
		store, err := backup.OpenSQLDedupStore(ctx, dialect, dedup.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		s.logger.WithFields(map[string]interface{}{
			"backend": dedup.Backend,
			"dsn":     logging.SanitizeDSN(dedup.DSN),
		}).Debug("Dedup index opened")
		return store, nil

	default:
		return nil, backup.NewConfigurationError(fmt.Sprintf("unsupported dedup backend %q", dedup.Backend), nil)
	}
}

// Close releases everything opened by the session, newest first
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.WithField("error", err.Error()).Warn("Failed to release resource")
		}
	}
}
