package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"file-backup-sync/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobLogger provides structured logging for a backup run with a correlation
// id shared by every line, plus an optional JSON audit trail.
type JobLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	auditFile     *os.File
	correlationID string
}

// JobLoggerConfig holds configuration for job logging
type JobLoggerConfig struct {
	Logger        *logging.Logger
	AuditLogFile  string
	CorrelationID string
}

// AuditLogEntry represents an audit trail entry
type AuditLogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Operation     string                 `json:"operation"`
	Resource      string                 `json:"resource"`
	Action        string                 `json:"action"`
	Result        string                 `json:"result"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewJobLogger creates a job logger. A new uuid is generated when no
// correlation id is given.
func NewJobLogger(config JobLoggerConfig) (*JobLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	jl := &JobLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.AuditLogFile != "" {
		auditDir := filepath.Dir(config.AuditLogFile)
		if err := os.MkdirAll(auditDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		jl.auditLogger = auditLogger
		jl.auditFile = auditFile
	}

	return jl, nil
}

// GetCorrelationID returns the current correlation ID
func (jl *JobLogger) GetCorrelationID() string {
	return jl.correlationID
}

// Logger returns the underlying application logger
func (jl *JobLogger) Logger() *logging.Logger {
	return jl.logger
}

// Entry returns a log entry carrying the correlation id
func (jl *JobLogger) Entry() *logrus.Entry {
	return jl.logger.WithField("correlation_id", jl.correlationID)
}

// LogJobStart logs the start of a run and returns a function that logs its
// outcome.
func (jl *JobLogger) LogJobStart(ctx context.Context, config BackupConfig) func(BackupResult, JobStatsSnapshot) {
	startTime := time.Now()

	jl.Entry().WithFields(logrus.Fields{
		"operation":          "backup_job",
		"status":             "started",
		"source":             config.SourceRoot,
		"destination":        config.Destination,
		"parallelism":        config.Parallelism,
		"compression":        string(config.CompressionType),
		"encryption_enabled": config.EncryptionEnabled,
		"dedup_enabled":      config.DedupEnabled,
		"bytes_per_second":   config.BytesPerSecond,
	}).Info("Backup job started")

	jl.logAudit("backup", "start", "started", map[string]interface{}{
		"source":      config.SourceRoot,
		"destination": config.Destination,
	})

	return func(result BackupResult, stats JobStatsSnapshot) {
		duration := time.Since(startTime)

		var err error
		if result.Status == JobStatusFailed {
			err = fmt.Errorf("%s", result.Message)
		}
		jl.logger.LogJobExecution(string(result.Status), stats.FilesTotal, duration, err)

		jl.Entry().WithFields(logrus.Fields{
			"files_uploaded":     stats.FilesUploaded,
			"files_deduplicated": stats.FilesDeduplicated,
			"files_unchanged":    stats.FilesUnchanged,
			"files_skipped":      stats.FilesSkipped,
			"files_failed":       stats.FilesFailed,
			"bytes_read":         stats.BytesRead,
			"bytes_stored":       stats.BytesStored,
		}).Debug("Backup job statistics")

		jl.logAudit("backup", "finish", string(result.Status), map[string]interface{}{
			"message":  result.Message,
			"duration": duration.String(),
			"uploaded": stats.FilesUploaded,
			"failed":   stats.FilesFailed,
		})
	}
}

// LogFile logs the outcome of one file's pipeline
func (jl *JobLogger) LogFile(path, action string, bytes int64, duration time.Duration, err error) {
	jl.logger.LogFileTransfer(path, action, bytes, duration, err)

	if err != nil {
		jl.logAudit("file", action, "failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	} else if action == FileActionUploaded {
		jl.logAudit("file", action, "success", map[string]interface{}{
			"path":  path,
			"bytes": bytes,
		})
	}
}

// logAudit writes an audit trail entry when auditing is enabled
func (jl *JobLogger) logAudit(resource, action, result string, details map[string]interface{}) {
	if jl.auditLogger == nil {
		return
	}

	entry := AuditLogEntry{
		Timestamp:     time.Now(),
		CorrelationID: jl.correlationID,
		Operation:     fmt.Sprintf("%s_%s", resource, action),
		Resource:      resource,
		Action:        action,
		Result:        result,
		Details:       details,
	}

	jl.auditLogger.WithFields(logrus.Fields{
		"correlation_id": entry.CorrelationID,
		"operation":      entry.Operation,
		"resource":       entry.Resource,
		"action":         entry.Action,
		"result":         entry.Result,
		"details":        entry.Details,
	}).Info("Audit log entry")
}

// Close releases the audit log file
func (jl *JobLogger) Close() error {
	if jl.auditFile == nil {
		return nil
	}
	return jl.auditFile.Close()
}
