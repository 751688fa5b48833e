package backup

import (
	"sync/atomic"
)

// File outcome labels used in logs and stats
const (
	FileActionUploaded     = "uploaded"
	FileActionDeduplicated = "deduplicated"
	FileActionUnchanged    = "unchanged"
	FileActionSkipped      = "skipped"
	FileActionFailed       = "failed"
)

// JobStats holds counters updated concurrently by worker goroutines
type JobStats struct {
	filesTotal        atomic.Int64
	filesDone         atomic.Int64
	filesUploaded     atomic.Int64
	filesDeduplicated atomic.Int64
	filesUnchanged    atomic.Int64
	filesSkipped      atomic.Int64
	filesFailed       atomic.Int64
	bytesRead         atomic.Int64
	bytesStored       atomic.Int64
}

// JobStatsSnapshot is a point-in-time copy of JobStats
type JobStatsSnapshot struct {
	FilesTotal        int   `json:"files_total" yaml:"files_total"`
	FilesDone         int   `json:"files_done" yaml:"files_done"`
	FilesUploaded     int   `json:"files_uploaded" yaml:"files_uploaded"`
	FilesDeduplicated int   `json:"files_deduplicated" yaml:"files_deduplicated"`
	FilesUnchanged    int   `json:"files_unchanged" yaml:"files_unchanged"`
	FilesSkipped      int   `json:"files_skipped" yaml:"files_skipped"`
	FilesFailed       int   `json:"files_failed" yaml:"files_failed"`
	BytesRead         int64 `json:"bytes_read" yaml:"bytes_read"`
	BytesStored       int64 `json:"bytes_stored" yaml:"bytes_stored"`
}

func (s *JobStats) setTotal(n int) {
	s.filesTotal.Store(int64(n))
}

// recordOutcome counts a finished file and returns the number of files done
func (s *JobStats) recordOutcome(action string) int {
	switch action {
	case FileActionUploaded:
		s.filesUploaded.Add(1)
	case FileActionDeduplicated:
		s.filesDeduplicated.Add(1)
	case FileActionUnchanged:
		s.filesUnchanged.Add(1)
	case FileActionSkipped:
		s.filesSkipped.Add(1)
	case FileActionFailed:
		s.filesFailed.Add(1)
	}
	return int(s.filesDone.Add(1))
}

func (s *JobStats) addBytesRead(n int64) {
	s.bytesRead.Add(n)
}

func (s *JobStats) addBytesStored(n int64) {
	s.bytesStored.Add(n)
}

// Snapshot returns the current counter values
func (s *JobStats) Snapshot() JobStatsSnapshot {
	return JobStatsSnapshot{
		FilesTotal:        int(s.filesTotal.Load()),
		FilesDone:         int(s.filesDone.Load()),
		FilesUploaded:     int(s.filesUploaded.Load()),
		FilesDeduplicated: int(s.filesDeduplicated.Load()),
		FilesUnchanged:    int(s.filesUnchanged.Load()),
		FilesSkipped:      int(s.filesSkipped.Load()),
		FilesFailed:       int(s.filesFailed.Load()),
		BytesRead:         s.bytesRead.Load(),
		BytesStored:       s.bytesStored.Load(),
	}
}
