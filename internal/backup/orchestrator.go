package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	apperrors "file-backup-sync/internal/errors"
	"file-backup-sync/internal/logging"
)

// ReferenceKeyPrefix is the meta key prefix under which reference records
// for deduplicated files are written.
const ReferenceKeyPrefix = ".refs/"

// DefaultUploadRetryConfig retries recoverable storage failures a few times
// with a short backoff.
func DefaultUploadRetryConfig() apperrors.RetryConfig {
	return apperrors.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// dedupFlusher is implemented by dedup stores that persist their index
// through the storage provider.
type dedupFlusher interface {
	Flush(ctx context.Context, storage StorageProvider) error
}

// Orchestrator runs backup jobs
type Orchestrator struct {
	logger       *logging.Logger
	retryConfig  apperrors.RetryConfig
	auditLogFile string
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger used by jobs
func WithLogger(logger *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryConfig sets the retry policy for payload uploads
func WithRetryConfig(config apperrors.RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retryConfig = config
	}
}

// WithAuditLog writes a JSON audit trail of every job to path
func WithAuditLog(path string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.auditLogFile = path
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger:      logging.NewDiscardLogger(),
		retryConfig: DefaultUploadRetryConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute starts a backup job and returns its handle immediately. A nil
// dedupStore disables deduplication; a nil listener drops progress events.
// When config disables deduplication a non-nil dedupStore is still kept
// consistent with the payloads the job overwrites.
// Cancelling ctx has the same effect as Job.Cancel.
func (o *Orchestrator) Execute(
	ctx context.Context,
	config BackupConfig,
	storage StorageProvider,
	dedupStore DedupStore,
	metadataStore MetadataStore,
	listener ProgressListener,
) *Job {
	job := newJob()
	if listener == nil {
		listener = NoopProgressListener{}
	}

	r := &jobRun{
		orchestrator: o,
		job:          job,
		config:       config.Normalize(),
		storage:      storage,
		dedup:        dedupStore,
		index:        dedupStore,
		metadata:     metadataStore,
		listener:     listener,
		parentCtx:    ctx,
		retry:        apperrors.NewRetryHandler(o.retryConfig),
	}
	if !r.config.DedupEnabled {
		r.dedup = nil
	}

	go r.run()
	return job
}

// jobRun holds the state of a single Execute call
type jobRun struct {
	orchestrator *Orchestrator
	job          *Job
	config       BackupConfig
	storage      StorageProvider
	dedup        DedupStore
	metadata     MetadataStore
	listener     ProgressListener
	retry        *apperrors.RetryHandler
	pipeline     *Pipeline
	throttle     *Throttle
	logger       *JobLogger
	flights      singleflight.Group

	// index is the dedup store even when lookups are disabled; entries whose
	// payload gets overwritten are removed from it.
	index DedupStore

	// parentCtx is only watched for cancellation. Work that must not be torn
	// down mid-write runs on workCtx, which outlives it.
	parentCtx context.Context
	workCtx   context.Context

	prior IncrementalMetadata
	total int
}

type fileResult struct {
	fingerprint Fingerprint
	action      string
}

// taskPlan carries what the invalidation pass learned about a file
type taskPlan struct {
	// fingerprint and size are set when the file was hashed during planning
	fingerprint Fingerprint
	size        int64
	// dependent marks a file whose recorded content was only reachable
	// through a payload this run overwrites. It is stored again even if
	// unchanged.
	dependent bool
}

func (r *jobRun) cancelled() bool {
	return r.job.IsCancelled() || r.parentCtx.Err() != nil
}

func (r *jobRun) run() {
	r.workCtx = logging.CreateContextWithRunID(context.WithoutCancel(r.parentCtx), r.job.ID())

	logger, err := NewJobLogger(JobLoggerConfig{
		Logger:        r.orchestrator.logger,
		AuditLogFile:  r.orchestrator.auditLogFile,
		CorrelationID: r.job.ID(),
	})
	if err != nil {
		r.orchestrator.logger.WithField("error", err.Error()).Warn("Audit log unavailable, continuing without it")
		logger, _ = NewJobLogger(JobLoggerConfig{
			Logger:        r.orchestrator.logger,
			CorrelationID: r.job.ID(),
		})
	}
	r.logger = logger

	logFinish := r.logger.LogJobStart(r.workCtx, r.config)
	result := r.execute()
	logFinish(result, r.job.Stats())
	r.logger.Close()

	// waiters are released only once the audit trail is complete
	r.job.finish(result.Status, result.Message)
}

func jobResult(status JobStatus, message string) BackupResult {
	return BackupResult{Status: status, Message: message}
}

// execute runs every phase and returns the terminal result
func (r *jobRun) execute() BackupResult {
	if err := r.setup(); err != nil {
		return jobResult(JobStatusFailed, err.Error())
	}

	tasks, err := r.enumerate()
	if err != nil {
		return jobResult(JobStatusFailed, err.Error())
	}

	prior, err := r.metadata.Load(r.workCtx, r.config.Destination)
	if err != nil {
		return jobResult(JobStatusFailed, fmt.Sprintf("failed to load backup metadata: %v", err))
	}
	if prior == nil {
		prior = IncrementalMetadata{}
	}
	r.prior = prior

	r.total = len(tasks)
	r.job.stats.setTotal(r.total)
	r.listener.OverallProgress(0, r.total)

	plans, err := r.invalidateOverwritten(tasks)
	if err != nil {
		return jobResult(JobStatusFailed, err.Error())
	}

	results := make([]fileResult, len(tasks))
	g := new(errgroup.Group)
	g.SetLimit(r.config.Parallelism)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = r.runTask(task, plans[i])
			return nil
		})
	}
	_ = g.Wait()

	next := r.buildMetadata(tasks, plans, results)

	if flusher, ok := r.index.(dedupFlusher); ok {
		if err := flusher.Flush(r.workCtx, r.storage); err != nil {
			r.logger.Entry().WithField("error", err.Error()).Warn("Failed to persist dedup index")
		}
	}

	if err := r.metadata.Save(r.workCtx, r.config.Destination, next); err != nil {
		return jobResult(JobStatusFailed, fmt.Sprintf("failed to save backup metadata: %v", err))
	}

	stats := r.job.Stats()
	if r.cancelled() {
		return jobResult(JobStatusCancelled, fmt.Sprintf(
			"backup cancelled: %d of %d files backed up, %d skipped",
			stats.FilesUploaded+stats.FilesDeduplicated+stats.FilesUnchanged, stats.FilesTotal, stats.FilesSkipped))
	}
	return jobResult(JobStatusCompleted, fmt.Sprintf(
		"backup completed: %d files (%d uploaded, %d deduplicated, %d unchanged, %d failed)",
		stats.FilesTotal, stats.FilesUploaded, stats.FilesDeduplicated, stats.FilesUnchanged, stats.FilesFailed))
}

// setup validates everything that must hold before the source is touched
func (r *jobRun) setup() error {
	if r.storage == nil {
		return NewConfigurationError("storage provider is required", nil)
	}
	if r.metadata == nil {
		return NewConfigurationError("metadata store is required", nil)
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	pipeline, err := NewPipeline(PipelineOptionsFromConfig(r.config))
	if err != nil {
		return err
	}
	r.pipeline = pipeline
	r.throttle = NewThrottle(r.config.BytesPerSecond)

	info, err := os.Stat(r.config.SourceRoot)
	if err != nil {
		return NewSourceError(fmt.Sprintf("source root %s is not accessible", r.config.SourceRoot), err)
	}
	if !info.IsDir() {
		return NewSourceError(fmt.Sprintf("source root %s is not a directory", r.config.SourceRoot), nil)
	}
	return nil
}

// enumerate lists the regular files below the source root
func (r *jobRun) enumerate() ([]FileTask, error) {
	start := time.Now()
	root := r.config.SourceRoot
	var (
		tasks      []FileTask
		totalBytes int64
	)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			r.logger.Entry().WithFields(map[string]interface{}{
				"path":  p,
				"error": walkErr.Error(),
			}).Warn("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if r.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			r.logger.Entry().WithField("path", rel).Warn("Skipping file that vanished during traversal")
			return nil
		}

		tasks = append(tasks, FileTask{
			RelativePath: rel,
			AbsolutePath: p,
			Size:         info.Size(),
		})
		totalBytes += info.Size()
		return nil
	})

	r.orchestrator.logger.LogTraversal(root, len(tasks), totalBytes, time.Since(start), err)
	if err != nil {
		return nil, NewSourceError("failed to enumerate source tree", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].RelativePath < tasks[j].RelativePath
	})
	return tasks, nil
}

// excluded matches patterns against the relative path and its base name
func (r *jobRun) excluded(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range r.config.ExcludePatterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// invalidateOverwritten finds files that are stored under a path the dedup
// index points at and whose content has changed. Uploading them replaces the
// payload, so the affected entries are removed first and every file whose
// recorded fingerprint is one of them is marked dependent.
func (r *jobRun) invalidateOverwritten(tasks []FileTask) ([]taskPlan, error) {
	plans := make([]taskPlan, len(tasks))
	if r.index == nil {
		return plans, nil
	}

	var (
		mu     sync.Mutex
		stale  = make(map[Fingerprint]struct{})
		owners = make(map[string]struct{})
	)

	g, ctx := errgroup.WithContext(r.workCtx)
	g.SetLimit(r.config.Parallelism)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if r.cancelled() {
				return nil
			}
			refs, err := r.index.ReferencesTo(ctx, task.RelativePath)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				return nil
			}

			// an unreadable file may become readable before its upload
			fp, size, fpErr := FingerprintFile(task.AbsolutePath)
			if fpErr == nil {
				plans[i].fingerprint = fp
				plans[i].size = size
			}

			mu.Lock()
			defer mu.Unlock()
			for _, ref := range refs {
				if fpErr != nil || ref != fp {
					stale[ref] = struct{}{}
					owners[task.RelativePath] = struct{}{}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, NewIndexError("failed to check dedup references", err)
	}
	if len(stale) == 0 {
		return plans, nil
	}

	for fp := range stale {
		if err := r.index.Remove(r.workCtx, fp); err != nil {
			return nil, NewIndexError("failed to invalidate dedup entry", err)
		}
	}

	dependents := 0
	for i, task := range tasks {
		if _, owner := owners[task.RelativePath]; owner {
			continue
		}
		if prior, ok := r.prior[task.RelativePath]; ok {
			if _, hit := stale[prior]; hit {
				plans[i].dependent = true
				dependents++
			}
		}
	}

	r.logger.Entry().WithFields(map[string]interface{}{
		"invalidated": len(stale),
		"dependents":  dependents,
	}).Info("Dedup entries dropped for payloads about to be overwritten")
	return plans, nil
}

// runTask processes one file and never lets a panic escape the worker
func (r *jobRun) runTask(task FileTask, plan taskPlan) (result fileResult) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic while processing %s: %v", task.RelativePath, rec)
			r.logger.LogFile(task.RelativePath, FileActionFailed, 0, 0, err)
			r.listener.FileCompleted(task.RelativePath, false)
			result = fileResult{action: FileActionFailed}
			r.listener.OverallProgress(r.job.stats.recordOutcome(FileActionFailed), r.total)
		}
	}()

	if r.cancelled() {
		result = fileResult{action: FileActionSkipped}
		r.listener.OverallProgress(r.job.stats.recordOutcome(FileActionSkipped), r.total)
		return result
	}

	start := time.Now()
	r.listener.FileStarted(task.RelativePath)

	result, err := r.processFile(task, plan)
	if err != nil {
		result = fileResult{action: FileActionFailed}
	}
	r.logger.LogFile(task.RelativePath, result.action, task.Size, time.Since(start), err)
	if result.action == FileActionSkipped {
		if skips, ok := r.listener.(SkipListener); ok {
			skips.FileSkipped(task.RelativePath)
		}
	}
	r.listener.FileCompleted(task.RelativePath, err == nil && result.action != FileActionSkipped)
	r.listener.OverallProgress(r.job.stats.recordOutcome(result.action), r.total)
	return result
}

// processFile runs fingerprint, change detection, dedup and upload for one
// file. A cancellation observed between stages yields a skipped result.
func (r *jobRun) processFile(task FileTask, plan taskPlan) (fileResult, error) {
	rel := task.RelativePath

	fp, size := plan.fingerprint, plan.size
	if fp == "" {
		var err error
		fp, size, err = FingerprintFile(task.AbsolutePath)
		if err != nil {
			return fileResult{}, err
		}
	}

	if prior, ok := r.prior[rel]; ok && prior == fp && !plan.dependent {
		r.listener.FileProgress(rel, size, size)
		return fileResult{fingerprint: fp, action: FileActionUnchanged}, nil
	}

	if r.cancelled() {
		return fileResult{fingerprint: fp, action: FileActionSkipped}, nil
	}

	if r.dedup == nil {
		if err := r.upload(task, size); err != nil {
			return fileResult{}, err
		}
		return r.uploaded(rel, fp)
	}

	entry, err := r.dedup.Get(r.workCtx, fp)
	if err != nil {
		return fileResult{}, err
	}
	if entry != nil {
		if err := r.writeReference(rel, fp, entry); err != nil {
			return fileResult{}, err
		}
		r.listener.FileProgress(rel, size, size)
		return fileResult{fingerprint: fp, action: FileActionDeduplicated}, nil
	}

	if r.cancelled() {
		return fileResult{fingerprint: fp, action: FileActionSkipped}, nil
	}

	entry, uploaded, err := r.uploadOnce(task, fp, size)
	if err != nil {
		return fileResult{}, err
	}
	if uploaded {
		return r.uploaded(rel, fp)
	}

	if err := r.writeReference(rel, fp, entry); err != nil {
		return fileResult{}, err
	}
	r.listener.FileProgress(rel, size, size)
	return fileResult{fingerprint: fp, action: FileActionDeduplicated}, nil
}

// uploaded finishes a file whose payload was stored under its own path. A
// reference record left by an earlier run may point elsewhere, possibly for
// the same fingerprint; it is replaced with one pointing at rel itself.
func (r *jobRun) uploaded(rel string, fp Fingerprint) (fileResult, error) {
	if r.index != nil {
		record, err := ReadReference(r.workCtx, r.storage, rel)
		if err != nil && !errors.Is(err, ErrMetaNotFound) {
			return fileResult{}, err
		}
		if record != nil && record.Reference != rel {
			if err := r.writeReference(rel, fp, &DedupEntry{Reference: rel, Owner: rel}); err != nil {
				return fileResult{}, err
			}
		}
	}
	return fileResult{fingerprint: fp, action: FileActionUploaded}, nil
}

type flightOutcome struct {
	entry    *DedupEntry
	uploaded bool
}

// uploadOnce coalesces concurrent uploads of the same content. The caller
// that runs the flight transfers the payload; the others get its entry back.
// A caller that joined a failed flight retries once on its own.
func (r *jobRun) uploadOnce(task FileTask, fp Fingerprint, size int64) (*DedupEntry, bool, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		ran := false
		v, err, _ := r.flights.Do(string(fp), func() (interface{}, error) {
			ran = true

			existing, err := r.dedup.Get(r.workCtx, fp)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return flightOutcome{entry: existing}, nil
			}

			if err := r.upload(task, size); err != nil {
				return nil, err
			}

			reference := task.RelativePath
			if err := r.dedup.Put(r.workCtx, fp, task.RelativePath, reference); err != nil {
				r.logger.Entry().WithFields(map[string]interface{}{
					"path":  task.RelativePath,
					"error": err.Error(),
				}).Warn("Failed to register fingerprint in dedup store")
			}
			return flightOutcome{
				entry: &DedupEntry{
					Fingerprint: fp,
					Reference:   reference,
					Owner:       task.RelativePath,
					CreatedAt:   time.Now().UTC(),
				},
				uploaded: true,
			}, nil
		})

		if err == nil {
			outcome := v.(flightOutcome)
			return outcome.entry, ran && outcome.uploaded, nil
		}
		lastErr = err
		if ran {
			break
		}
	}
	return nil, false, lastErr
}

// upload streams the file through rate limiter and pipeline into storage.
// The file is reopened for every retry attempt.
func (r *jobRun) upload(task FileTask, size int64) error {
	rel := task.RelativePath

	err := r.retry.Retry(r.workCtx, func() error {
		f, err := os.Open(task.AbsolutePath)
		if err != nil {
			return NewSourceError(fmt.Sprintf("failed to open %s", rel), err)
		}
		defer f.Close()

		raw := &countingReader{
			reader: r.throttle.Reader(r.workCtx, f),
			onRead: func(total int64) {
				r.listener.FileProgress(rel, total, size)
			},
		}

		stream := r.pipeline.Apply(raw)
		defer stream.Close()

		stored := &countingReader{reader: stream}
		if err := r.storage.Put(r.workCtx, rel, stored, size); err != nil {
			return err
		}

		r.job.stats.addBytesRead(raw.Count())
		r.job.stats.addBytesStored(stored.Count())
		return nil
	})
	if err != nil {
		var backupErr *BackupError
		if errors.As(err, &backupErr) {
			return err
		}
		return NewStorageError(fmt.Sprintf("failed to store %s", rel), err)
	}
	return nil
}

// writeReference records that rel has the same content as entry's owner
func (r *jobRun) writeReference(rel string, fp Fingerprint, entry *DedupEntry) error {
	record := ReferenceRecord{
		Path:        rel,
		Fingerprint: fp,
		Reference:   entry.Reference,
		Owner:       entry.Owner,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return NewStorageError("failed to serialize reference record", err)
	}
	if err := r.storage.PutMeta(r.workCtx, ReferenceKeyPrefix+rel, data); err != nil {
		return NewStorageError(fmt.Sprintf("failed to write reference record for %s", rel), err)
	}
	return nil
}

// buildMetadata merges per-task results into the next metadata document.
// Failed files are left out so the next run retries them. Files skipped by
// cancellation keep whatever the previous run recorded, unless that record
// relied on a payload invalidated by this run.
func (r *jobRun) buildMetadata(tasks []FileTask, plans []taskPlan, results []fileResult) IncrementalMetadata {
	next := make(IncrementalMetadata, len(tasks))
	for i, task := range tasks {
		res := results[i]
		switch res.action {
		case FileActionUploaded, FileActionDeduplicated, FileActionUnchanged:
			next[task.RelativePath] = res.fingerprint
		case FileActionSkipped:
			if plans[i].dependent {
				continue
			}
			if fp, ok := r.prior[task.RelativePath]; ok {
				next[task.RelativePath] = fp
			}
		}
	}
	return next
}

// ReadReference loads the reference record written for a deduplicated path
func ReadReference(ctx context.Context, storage StorageProvider, rel string) (*ReferenceRecord, error) {
	data, err := storage.GetMeta(ctx, ReferenceKeyPrefix+rel)
	if err != nil {
		return nil, err
	}

	var record ReferenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, NewCorruptionError(fmt.Sprintf("invalid reference record for %s", rel), err)
	}
	return &record, nil
}

// ResolvePayloadKey returns the storage key holding the content recorded for
// rel with fingerprint fp. A reference record wins only when it was written
// for that same fingerprint; otherwise the payload stored under rel itself is
// current and the record is left over from an earlier run.
func ResolvePayloadKey(ctx context.Context, storage StorageProvider, rel string, fp Fingerprint) (string, error) {
	record, err := ReadReference(ctx, storage, rel)
	if err != nil {
		if errors.Is(err, ErrMetaNotFound) {
			return rel, nil
		}
		return "", err
	}
	if record.Fingerprint != fp {
		return rel, nil
	}
	return record.Reference, nil
}
