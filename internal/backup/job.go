package backup

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Job is the handle of a running backup. All methods are safe for
// concurrent use.
type Job struct {
	id        string
	cancelled atomic.Bool
	stats     JobStats

	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	result BackupResult
}

func newJob() *Job {
	return &Job{
		id:     uuid.New().String(),
		done:   make(chan struct{}),
		result: BackupResult{Status: JobStatusRunning},
	}
}

// ID returns the run id shared by every log line of the job
func (j *Job) ID() string {
	return j.id
}

// Cancel requests cooperative cancellation. Files already being transferred
// are allowed to finish; files not yet started are skipped.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// IsCancelled reports whether Cancel has been called
func (j *Job) IsCancelled() bool {
	return j.cancelled.Load()
}

// Done is closed once the job reached a terminal status
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its result
func (j *Job) Wait() BackupResult {
	<-j.done
	return j.snapshotResult()
}

// WaitContext is like Wait but gives up when ctx is done
func (j *Job) WaitContext(ctx context.Context) (BackupResult, error) {
	select {
	case <-j.done:
		return j.snapshotResult(), nil
	case <-ctx.Done():
		return BackupResult{}, ctx.Err()
	}
}

// Result returns the current result and whether it is terminal
func (j *Job) Result() (BackupResult, bool) {
	result := j.snapshotResult()
	return result, result.Status.IsTerminal()
}

// Stats returns a snapshot of the job counters
func (j *Job) Stats() JobStatsSnapshot {
	return j.stats.Snapshot()
}

func (j *Job) snapshotResult() BackupResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// finish records the terminal result. Only the first call has an effect.
func (j *Job) finish(status JobStatus, message string) BackupResult {
	j.once.Do(func() {
		j.mu.Lock()
		j.result = BackupResult{Status: status, Message: message}
		j.mu.Unlock()
		close(j.done)
	})
	return j.snapshotResult()
}
