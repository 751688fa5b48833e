package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"file-backup-sync/internal/logging"
)

// MetricsKey is the meta key the run metrics document is stored under
const MetricsKey = ".backup_metrics"

const maxRecentRuns = 20

// MetricsCollector aggregates the outcome of backup runs against one
// destination and persists them next to the backup metadata.
type MetricsCollector struct {
	logger  *logging.Logger
	storage StorageProvider
	metrics *BackupMetrics
	mu      sync.RWMutex
}

// BackupMetrics holds aggregated run metrics
type BackupMetrics struct {
	Runs        *OperationMetrics   `json:"runs"`
	Performance *PerformanceMetrics `json:"performance"`
	Files       *FileMetrics        `json:"files"`
	RecentRuns  []RunRecord         `json:"recent_runs"`

	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

// OperationMetrics tracks outcome counts and timings of runs
type OperationMetrics struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Cancelled   int64   `json:"cancelled"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`

	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
}

// PerformanceMetrics tracks transfer efficiency
type PerformanceMetrics struct {
	TotalBytesRead          int64   `json:"total_bytes_read"`
	TotalBytesStored        int64   `json:"total_bytes_stored"`
	AverageCompressionRatio float64 `json:"average_compression_ratio"`
	Throughput              float64 `json:"throughput_mb_per_sec"`
}

// FileMetrics sums per-file outcomes over all runs
type FileMetrics struct {
	Uploaded     int64 `json:"uploaded"`
	Deduplicated int64 `json:"deduplicated"`
	Unchanged    int64 `json:"unchanged"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
}

// RunRecord is the summary of one finished job
type RunRecord struct {
	JobID      string           `json:"job_id" yaml:"job_id"`
	Status     JobStatus        `json:"status" yaml:"status"`
	Message    string           `json:"message" yaml:"message"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Stats      JobStatsSnapshot `json:"stats" yaml:"stats"`
}

// Duration returns how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// MetricsConfig holds configuration for metrics collection
type MetricsConfig struct {
	Logger  *logging.Logger
	Storage StorageProvider
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) *MetricsCollector {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	return &MetricsCollector{
		logger:  logger,
		storage: config.Storage,
		metrics: newBackupMetrics(),
	}
}

func newBackupMetrics() *BackupMetrics {
	return &BackupMetrics{
		Runs:        &OperationMetrics{},
		Performance: &PerformanceMetrics{},
		Files:       &FileMetrics{},
		StartTime:   time.Now().UTC(),
	}
}

// Load replaces the in-memory metrics with the persisted document. A missing
// document leaves the collector empty.
func (mc *MetricsCollector) Load(ctx context.Context) error {
	data, err := mc.storage.GetMeta(ctx, MetricsKey)
	if err != nil {
		if errors.Is(err, ErrMetaNotFound) {
			return nil
		}
		return NewStorageError("failed to load backup metrics", err)
	}

	metrics := newBackupMetrics()
	if err := json.Unmarshal(data, metrics); err != nil {
		return NewCorruptionError("failed to parse backup metrics", err)
	}
	if metrics.Runs == nil || metrics.Performance == nil || metrics.Files == nil {
		return NewCorruptionError("backup metrics document is incomplete", nil)
	}

	mc.mu.Lock()
	mc.metrics = metrics
	mc.mu.Unlock()
	return nil
}

// RecordRun folds one finished job into the metrics
func (mc *MetricsCollector) RecordRun(record RunRecord) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	runs := mc.metrics.Runs
	runs.Total++
	switch record.Status {
	case JobStatusCompleted:
		runs.Completed++
	case JobStatusCancelled:
		runs.Cancelled++
	default:
		runs.Failed++
	}
	runs.SuccessRate = float64(runs.Completed) / float64(runs.Total)

	duration := record.Duration()
	if runs.MinDuration == 0 || duration < runs.MinDuration {
		runs.MinDuration = duration
	}
	if duration > runs.MaxDuration {
		runs.MaxDuration = duration
	}
	totalDuration := time.Duration(int64(runs.AverageDuration)*(runs.Total-1)) + duration
	runs.AverageDuration = totalDuration / time.Duration(runs.Total)

	stats := record.Stats
	files := mc.metrics.Files
	files.Uploaded += int64(stats.FilesUploaded)
	files.Deduplicated += int64(stats.FilesDeduplicated)
	files.Unchanged += int64(stats.FilesUnchanged)
	files.Skipped += int64(stats.FilesSkipped)
	files.Failed += int64(stats.FilesFailed)

	perf := mc.metrics.Performance
	perf.TotalBytesRead += stats.BytesRead
	perf.TotalBytesStored += stats.BytesStored
	if perf.TotalBytesStored > 0 {
		perf.AverageCompressionRatio = float64(perf.TotalBytesRead) / float64(perf.TotalBytesStored)
	}
	if stats.BytesRead > 0 && duration.Seconds() > 0 {
		throughput := float64(stats.BytesRead) / (1024 * 1024) / duration.Seconds()
		if perf.Throughput == 0 {
			perf.Throughput = throughput
		} else {
			perf.Throughput = (perf.Throughput + throughput) / 2
		}
	}

	mc.metrics.RecentRuns = append(mc.metrics.RecentRuns, record)
	if len(mc.metrics.RecentRuns) > maxRecentRuns {
		mc.metrics.RecentRuns = mc.metrics.RecentRuns[len(mc.metrics.RecentRuns)-maxRecentRuns:]
	}
	mc.metrics.LastUpdate = time.Now().UTC()
}

// Save persists the metrics document to the destination
func (mc *MetricsCollector) Save(ctx context.Context) error {
	mc.mu.RLock()
	data, err := json.MarshalIndent(mc.metrics, "", "  ")
	mc.mu.RUnlock()
	if err != nil {
		return NewStorageError("failed to serialize backup metrics", err)
	}

	if err := mc.storage.PutMeta(ctx, MetricsKey, data); err != nil {
		return NewStorageError("failed to save backup metrics", err)
	}

	mc.logger.WithField("size", len(data)).Debug("Backup metrics saved")
	return nil
}

// GetMetrics returns a copy of current metrics
func (mc *MetricsCollector) GetMetrics() BackupMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	runs := *mc.metrics.Runs
	perf := *mc.metrics.Performance
	files := *mc.metrics.Files
	out := *mc.metrics
	out.Runs = &runs
	out.Performance = &perf
	out.Files = &files
	out.RecentRuns = append([]RunRecord(nil), mc.metrics.RecentRuns...)
	return out
}

// LastRun returns the most recent run, if any
func (mc *MetricsCollector) LastRun() (RunRecord, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if len(mc.metrics.RecentRuns) == 0 {
		return RunRecord{}, false
	}
	return mc.metrics.RecentRuns[len(mc.metrics.RecentRuns)-1], true
}

// ReportSummary provides a high-level summary of the destination's history
type ReportSummary struct {
	TotalRuns        int64    `json:"total_runs" yaml:"total_runs"`
	RunSuccessRate   float64  `json:"run_success_rate" yaml:"run_success_rate"`
	CompressionRatio float64  `json:"compression_ratio" yaml:"compression_ratio"`
	DedupRate        float64  `json:"dedup_rate" yaml:"dedup_rate"`
	Recommendations  []string `json:"recommendations" yaml:"recommendations"`
}

// GenerateSummary summarizes the collected metrics
func (mc *MetricsCollector) GenerateSummary() ReportSummary {
	metrics := mc.GetMetrics()

	summary := ReportSummary{
		TotalRuns:        metrics.Runs.Total,
		RunSuccessRate:   metrics.Runs.SuccessRate,
		CompressionRatio: metrics.Performance.AverageCompressionRatio,
	}

	transferred := metrics.Files.Uploaded + metrics.Files.Deduplicated
	if transferred > 0 {
		summary.DedupRate = float64(metrics.Files.Deduplicated) / float64(transferred)
	}

	summary.Recommendations = generateRecommendations(metrics)
	return summary
}

func generateRecommendations(metrics BackupMetrics) []string {
	var recommendations []string

	if metrics.Runs.Total > 0 && metrics.Runs.SuccessRate < 0.95 {
		recommendations = append(recommendations,
			"Investigate failed or cancelled runs; incomplete runs leave files to be retried")
	}

	if metrics.Files.Failed > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("%d file transfers failed; check source permissions and destination health", metrics.Files.Failed))
	}

	if metrics.Performance.TotalBytesStored > 0 && metrics.Performance.AverageCompressionRatio < 1.05 {
		recommendations = append(recommendations,
			"Content barely compresses; consider lz4 or disabling compression to save CPU")
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Backups are operating normally")
	}

	return recommendations
}
