package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "file-backup-sync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDestination = "memory://"

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

type testRun struct {
	storage  *MemoryStorageProvider
	dedup    *MemoryDedupStore
	metadata *StorageMetadataStore
}

func newTestRun() *testRun {
	storage := NewMemoryStorageProvider()
	return &testRun{
		storage:  storage,
		dedup:    NewMemoryDedupStore(),
		metadata: NewStorageMetadataStore(storage, nil),
	}
}

func (tr *testRun) execute(t *testing.T, ctx context.Context, config BackupConfig, listener ProgressListener) (*Job, BackupResult) {
	t.Helper()

	orchestrator := NewOrchestrator(WithRetryConfig(apperrors.RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}))
	job := orchestrator.Execute(ctx, config, tr.storage, tr.dedup, tr.metadata, listener)

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := job.WaitContext(waitCtx)
	require.NoError(t, err, "job did not finish")
	return job, result
}

func (tr *testRun) loadMetadata(t *testing.T) IncrementalMetadata {
	t.Helper()
	metadata, err := tr.metadata.Load(context.Background(), testDestination)
	require.NoError(t, err)
	return metadata
}

func TestOrchestrator_FirstRunUploadsEverything(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":       "alpha",
		"dir/b.txt":   "bravo",
		"dir/c/d.txt": "delta",
	})
	tr := newTestRun()
	listener := newRecordingListener()

	job, result := tr.execute(t, context.Background(), NewBackupConfig(root, testDestination), listener)

	assert.Equal(t, JobStatusCompleted, result.Status)
	assert.Contains(t, result.Message, "3 uploaded")

	stats := job.Stats()
	assert.Equal(t, 3, stats.FilesTotal)
	assert.Equal(t, 3, stats.FilesUploaded)
	assert.Equal(t, int64(15), stats.BytesRead)
	assert.Positive(t, stats.BytesStored)

	assert.Equal(t, []string{"a.txt", "dir/b.txt", "dir/c/d.txt"}, tr.storage.ObjectKeys())
	assert.Len(t, tr.loadMetadata(t), 3)

	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt", "dir/c/d.txt"}, listener.started)
	for _, rel := range listener.started {
		assert.True(t, listener.completed[rel], "%s should complete successfully", rel)
		assert.Equal(t, int64(5), listener.progress[rel])
	}
	assert.Equal(t, 3, listener.total)
	assert.Equal(t, 3, listener.overall[len(listener.overall)-1])
	assert.Equal(t, 0, listener.overall[0], "an initial zero progress event is emitted")

	assert.Contains(t, tr.storage.MetaKeys(), DedupIndexKey, "the in-memory dedup index is flushed")
}

func TestOrchestrator_SecondRunIsIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":     "alpha",
		"dir/b.txt": "bravo",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)

	_, first := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, first.Status)
	puts := tr.storage.PutCount()
	before := tr.loadMetadata(t)

	job, second := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, second.Status)

	stats := job.Stats()
	assert.Equal(t, 0, stats.FilesUploaded)
	assert.Equal(t, 2, stats.FilesUnchanged)
	assert.Equal(t, puts, tr.storage.PutCount(), "no payload is rewritten")
	assert.Equal(t, before, tr.loadMetadata(t))
}

func TestOrchestrator_DetectsChangedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"keep.txt":   "same",
		"change.txt": "v1",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)

	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)
	oldFP := tr.loadMetadata(t)["change.txt"]

	require.NoError(t, os.WriteFile(filepath.Join(root, "change.txt"), []byte("v2 with more bytes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("brand new"), 0644))

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	stats := job.Stats()
	assert.Equal(t, 2, stats.FilesUploaded)
	assert.Equal(t, 1, stats.FilesUnchanged)

	metadata := tr.loadMetadata(t)
	assert.Len(t, metadata, 3)
	assert.NotEqual(t, oldFP, metadata["change.txt"])
	assert.Equal(t, fingerprintOf("v2 with more bytes"), metadata["change.txt"])
}

func TestOrchestrator_DeletedFilesDropOutOfMetadata(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)

	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	_, result = tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, IncrementalMetadata{"a.txt": fingerprintOf("alpha")}, tr.loadMetadata(t))
}

func TestOrchestrator_DeduplicatesIdenticalContent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":      "identical payload",
		"copy/b.txt": "identical payload",
		"other.txt":  "different",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	stats := job.Stats()
	assert.Equal(t, 2, stats.FilesUploaded)
	assert.Equal(t, 1, stats.FilesDeduplicated)
	assert.Equal(t, 2, tr.storage.PutCount())
	assert.Equal(t, []string{"a.txt", "other.txt"}, tr.storage.ObjectKeys())

	record, err := ReadReference(context.Background(), tr.storage, "copy/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "copy/b.txt", record.Path)
	assert.Equal(t, "a.txt", record.Owner)
	assert.Equal(t, "a.txt", record.Reference)
	assert.Equal(t, fingerprintOf("identical payload"), record.Fingerprint)

	metadata := tr.loadMetadata(t)
	assert.Equal(t, metadata["a.txt"], metadata["copy/b.txt"])
}

func TestOrchestrator_ConcurrentIdenticalFilesUploadOnce(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 24; i++ {
		files[fmt.Sprintf("copies/file-%02d.bin", i)] = strings.Repeat("same bytes ", 5000)
	}
	root := writeTree(t, files)
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 8

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	stats := job.Stats()
	assert.Equal(t, 1, stats.FilesUploaded)
	assert.Equal(t, 23, stats.FilesDeduplicated)
	assert.Equal(t, 1, tr.storage.PutCount())
	assert.Equal(t, 1, tr.dedup.Len())
}

func TestOrchestrator_DedupAcrossRuns(t *testing.T) {
	tr := newTestRun()

	first := writeTree(t, map[string]string{"a.txt": "shared"})
	_, result := tr.execute(t, context.Background(), NewBackupConfig(first, testDestination), nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	// a fresh store loaded from the destination still knows the content
	reloaded := NewMemoryDedupStore()
	require.NoError(t, reloaded.Load(context.Background(), tr.storage))
	tr.dedup = reloaded

	second := writeTree(t, map[string]string{"elsewhere/z.txt": "shared"})
	config := NewBackupConfig(second, testDestination)
	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, 1, job.Stats().FilesDeduplicated)
	assert.Equal(t, 1, tr.storage.PutCount())
}

func TestOrchestrator_DedupDisabled(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "twin",
		"b.txt": "twin",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.DedupEnabled = false

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, 2, job.Stats().FilesUploaded)
	assert.Equal(t, 2, tr.storage.PutCount())
	assert.Equal(t, 0, tr.dedup.Len(), "no entries are recorded")
}

func TestOrchestrator_CancellationKeepsCompletedWork(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 6; i++ {
		files[fmt.Sprintf("f%d.txt", i)] = fmt.Sprintf("content %d", i)
	}
	root := writeTree(t, files)
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := newRecordingListener()
	var (
		mu        sync.Mutex
		completed int
	)
	listener.onCompleted = func(string, bool) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if completed == 2 {
			cancel()
		}
	}

	job, result := tr.execute(t, ctx, config, listener)
	require.Equal(t, JobStatusCancelled, result.Status)
	assert.Contains(t, result.Message, "2 of 6 files backed up, 4 skipped")

	stats := job.Stats()
	assert.Equal(t, 2, stats.FilesUploaded)
	assert.Equal(t, 4, stats.FilesSkipped)
	assert.Len(t, listener.started, 2, "no file starts after cancellation")

	metadata := tr.loadMetadata(t)
	assert.Equal(t, IncrementalMetadata{
		"f0.txt": fingerprintOf("content 0"),
		"f1.txt": fingerprintOf("content 1"),
	}, metadata)

	// the rerun only transfers what the cancelled run did not finish
	job, result = tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)
	assert.Equal(t, 2, job.Stats().FilesUnchanged)
	assert.Equal(t, 4, job.Stats().FilesUploaded)
	assert.Equal(t, 6, tr.storage.PutCount())
}

func TestOrchestrator_JobCancelBeforeWork(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	tr := newTestRun()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, result := tr.execute(t, ctx, NewBackupConfig(root, testDestination), nil)
	assert.Equal(t, JobStatusCancelled, result.Status)
	assert.Equal(t, 2, job.Stats().FilesSkipped)
	assert.Equal(t, 0, tr.storage.PutCount())
}

// flakyStorage fails payload writes for selected paths
type flakyStorage struct {
	*MemoryStorageProvider
	failPaths map[string]bool
	failMeta  map[string]bool
}

func (f *flakyStorage) Put(ctx context.Context, rel string, content io.Reader, sizeHint int64) error {
	if f.failPaths[rel] {
		_, _ = io.Copy(io.Discard, content)
		return errors.New("simulated write failure")
	}
	return f.MemoryStorageProvider.Put(ctx, rel, content, sizeHint)
}

func (f *flakyStorage) PutMeta(ctx context.Context, key string, content []byte) error {
	if f.failMeta[key] {
		return errors.New("simulated meta failure")
	}
	return f.MemoryStorageProvider.PutMeta(ctx, key, content)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	root := writeTree(t, map[string]string{
		"good-1.txt": "one",
		"bad.txt":    "broken",
		"good-2.txt": "two",
	})
	memory := NewMemoryStorageProvider()
	storage := &flakyStorage{MemoryStorageProvider: memory, failPaths: map[string]bool{"bad.txt": true}}
	metadata := NewStorageMetadataStore(storage, nil)
	listener := newRecordingListener()

	job := NewOrchestrator().Execute(context.Background(), NewBackupConfig(root, testDestination), storage, NewMemoryDedupStore(), metadata, listener)
	result := job.Wait()

	assert.Equal(t, JobStatusCompleted, result.Status)
	assert.Contains(t, result.Message, "1 failed")
	assert.Equal(t, 2, job.Stats().FilesUploaded)
	assert.Equal(t, 1, job.Stats().FilesFailed)

	assert.False(t, listener.completed["bad.txt"])
	assert.True(t, listener.completed["good-1.txt"])
	assert.True(t, listener.completed["good-2.txt"])

	saved, err := metadata.Load(context.Background(), testDestination)
	require.NoError(t, err)
	assert.NotContains(t, saved, "bad.txt", "failed files are retried on the next run")
	assert.Len(t, saved, 2)
}

func TestOrchestrator_UnreadableFileIsIsolated(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	root := writeTree(t, map[string]string{
		"ok.txt":     "readable",
		"secret.txt": "locked",
	})
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.Chmod(secret, 0000))
	t.Cleanup(func() { os.Chmod(secret, 0644) })

	tr := newTestRun()
	job, result := tr.execute(t, context.Background(), NewBackupConfig(root, testDestination), nil)

	assert.Equal(t, JobStatusCompleted, result.Status)
	assert.Equal(t, 1, job.Stats().FilesFailed)
	assert.Equal(t, IncrementalMetadata{"ok.txt": fingerprintOf("readable")}, tr.loadMetadata(t))
}

func TestOrchestrator_MetadataSaveFailureFailsJob(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	storage := &flakyStorage{
		MemoryStorageProvider: NewMemoryStorageProvider(),
		failMeta:              map[string]bool{MetadataKey: true},
	}

	job := NewOrchestrator().Execute(context.Background(), NewBackupConfig(root, testDestination), storage, nil, NewStorageMetadataStore(storage, nil), nil)
	result := job.Wait()

	assert.Equal(t, JobStatusFailed, result.Status)
	assert.Contains(t, result.Message, "failed to save backup metadata")
}

func TestOrchestrator_DedupFlushFailureOnlyWarns(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	storage := &flakyStorage{
		MemoryStorageProvider: NewMemoryStorageProvider(),
		failMeta:              map[string]bool{DedupIndexKey: true},
	}

	job := NewOrchestrator().Execute(context.Background(), NewBackupConfig(root, testDestination), storage, NewMemoryDedupStore(), NewStorageMetadataStore(storage, nil), nil)
	assert.Equal(t, JobStatusCompleted, job.Wait().Status)
}

func TestOrchestrator_SetupFailures(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	filePath := filepath.Join(root, "a.txt")

	withoutKey := NewBackupConfig(root, testDestination)
	withoutKey.EncryptionEnabled = true

	badCompression := NewBackupConfig(root, testDestination)
	badCompression.CompressionType = "BROTLI"

	tests := []struct {
		name    string
		config  BackupConfig
		message string
	}{
		{"encryption without key", withoutKey, "no key"},
		{"missing source", NewBackupConfig(filepath.Join(root, "missing"), testDestination), "not accessible"},
		{"source is a file", NewBackupConfig(filePath, testDestination), "not a directory"},
		{"unknown compression", badCompression, "compression"},
		{"missing destination", NewBackupConfig(root, ""), "destination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRun()
			listener := newRecordingListener()

			_, result := tr.execute(t, context.Background(), tt.config, listener)

			assert.Equal(t, JobStatusFailed, result.Status)
			assert.Contains(t, result.Message, tt.message)
			assert.Empty(t, listener.started, "no file may be processed")
			assert.Empty(t, listener.overall)
			assert.Equal(t, 0, tr.storage.PutCount())
		})
	}
}

func TestOrchestrator_MissingCollaborators(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	config := NewBackupConfig(root, testDestination)

	job := NewOrchestrator().Execute(context.Background(), config, nil, nil, NewStorageMetadataStore(NewMemoryStorageProvider(), nil), nil)
	assert.Equal(t, JobStatusFailed, job.Wait().Status)

	job = NewOrchestrator().Execute(context.Background(), config, NewMemoryStorageProvider(), nil, nil, nil)
	assert.Equal(t, JobStatusFailed, job.Wait().Status)
}

func TestOrchestrator_ParallelismCoerced(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})
	tr := newTestRun()

	for _, parallelism := range []int{0, -3} {
		config := NewBackupConfig(root, testDestination)
		config.Parallelism = parallelism

		_, result := tr.execute(t, context.Background(), config, nil)
		assert.Equal(t, JobStatusCompleted, result.Status, "parallelism %d", parallelism)
	}
}

func TestOrchestrator_ExcludePatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"keep.txt":          "keep",
		"scratch.tmp":       "temp",
		"nested/also.tmp":   "temp",
		".git/HEAD":         "ref",
		"logs/app.log":      "log",
		"logs/keep/app.txt": "kept",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.ExcludePatterns = []string{"*.tmp", ".git", "logs/*.log"}

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, 2, job.Stats().FilesTotal)
	assert.Equal(t, []string{"keep.txt", "logs/keep/app.txt"}, tr.storage.ObjectKeys())
}

func TestOrchestrator_EncryptedPayloadsRoundTrip(t *testing.T) {
	content := strings.Repeat("sensitive ", 20000)
	root := writeTree(t, map[string]string{"secret.txt": content})
	tr := newTestRun()

	config := NewBackupConfig(root, testDestination)
	config.EncryptionKey = testKey(t)
	config = config.Normalize()

	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	stored, ok := tr.storage.Object("secret.txt")
	require.True(t, ok)
	assert.Equal(t, streamMagic, string(stored[:len(streamMagic)]))
	assert.NotContains(t, string(stored), "sensitive")

	p, err := NewPipeline(PipelineOptionsFromConfig(config))
	require.NoError(t, err)
	raw, err := p.Invert(strings.NewReader(string(stored)))
	require.NoError(t, err)
	restored, err := io.ReadAll(raw)
	require.NoError(t, err)
	assert.Equal(t, content, string(restored))
}

func TestOrchestrator_Throttled(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	root := writeTree(t, map[string]string{
		"a.bin": strings.Repeat("a", 4*1024),
		"b.bin": strings.Repeat("b", 4*1024),
		"c.bin": strings.Repeat("c", 4*1024),
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.BytesPerSecond = 4 * 1024
	config.Parallelism = 3

	start := time.Now()
	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	// workers share one budget: 12 KiB at 4 KiB/s with a one second burst
	// takes about two seconds
	assert.GreaterOrEqual(t, time.Since(start), 1800*time.Millisecond)
}

func TestOrchestrator_EmptySource(t *testing.T) {
	tr := newTestRun()
	listener := newRecordingListener()

	job, result := tr.execute(t, context.Background(), NewBackupConfig(t.TempDir(), testDestination), listener)

	assert.Equal(t, JobStatusCompleted, result.Status)
	assert.Equal(t, 0, job.Stats().FilesTotal)
	assert.Equal(t, []int{0}, listener.overall)
	assert.Empty(t, tr.loadMetadata(t))
}

func TestOrchestrator_AuditLog(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	storage := NewMemoryStorageProvider()

	job := NewOrchestrator(WithAuditLog(auditPath)).Execute(
		context.Background(), NewBackupConfig(root, testDestination), storage, nil, NewStorageMetadataStore(storage, nil), nil)
	require.Equal(t, JobStatusCompleted, job.Wait().Status)

	entries := readAuditEntries(t, auditPath)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, job.ID(), entry["correlation_id"])
	}
}

// restore decodes the payload recorded for rel the way a restore would
func restore(t *testing.T, tr *testRun, config BackupConfig, rel string) string {
	t.Helper()
	ctx := context.Background()

	fp, ok := tr.loadMetadata(t)[rel]
	require.True(t, ok, "%s is not in the metadata", rel)
	key, err := ResolvePayloadKey(ctx, tr.storage, rel, fp)
	require.NoError(t, err)
	stored, ok := tr.storage.Object(key)
	require.True(t, ok, "%s resolves to missing payload %s", rel, key)

	p, err := NewPipeline(PipelineOptionsFromConfig(config))
	require.NoError(t, err)
	raw, err := p.Invert(bytes.NewReader(stored))
	require.NoError(t, err)
	defer raw.Close()
	restored, err := io.ReadAll(raw)
	require.NoError(t, err)
	return string(restored)
}

func TestOrchestrator_ChangedOwnerKeepsTwinsRestorable(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "shared content",
		"b.txt": "shared content",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)
	require.Equal(t, 1, job.Stats().FilesDeduplicated)

	// a.txt held the shared payload; it changes while b.txt does not, and a
	// new copy of the old content appears
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("rewritten"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("shared content"), 0644))

	job, result = tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	stats := job.Stats()
	assert.Equal(t, 2, stats.FilesUploaded, "a.txt and the orphaned b.txt")
	assert.Equal(t, 1, stats.FilesDeduplicated)
	assert.Equal(t, 0, stats.FilesUnchanged)

	entry, err := tr.dedup.Get(context.Background(), fingerprintOf("shared content"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "b.txt", entry.Reference)

	assert.Equal(t, "rewritten", restore(t, tr, config, "a.txt"))
	assert.Equal(t, "shared content", restore(t, tr, config, "b.txt"))
	assert.Equal(t, "shared content", restore(t, tr, config, "c.txt"))

	// the next run has nothing left to repair
	job, result = tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)
	assert.Equal(t, 3, job.Stats().FilesUnchanged)
}

func TestOrchestrator_PathSwitchesBetweenPayloadAndReference(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "first",
		"b.txt": "second",
		"c.txt": "first",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	// a.txt becomes a copy of b.txt, c.txt gets content of its own
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("second"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("third"), 0644))
	_, result = tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, "second", restore(t, tr, config, "a.txt"))
	assert.Equal(t, "second", restore(t, tr, config, "b.txt"))
	assert.Equal(t, "third", restore(t, tr, config, "c.txt"))

	// c.txt returns to content that is now stored nowhere else
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("first"), 0644))
	_, result = tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, "first", restore(t, tr, config, "c.txt"))
	record, err := ReadReference(context.Background(), tr.storage, "c.txt")
	require.NoError(t, err)
	assert.Equal(t, "c.txt", record.Reference)
}

func TestOrchestrator_InvalidatesWithDedupDisabled(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "twin",
		"b.txt": "twin",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed"), 0644))
	config.DedupEnabled = false
	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	assert.Equal(t, 2, job.Stats().FilesUploaded)
	assert.Equal(t, 0, tr.dedup.Len())
	assert.Equal(t, "changed", restore(t, tr, config, "a.txt"))
	assert.Equal(t, "twin", restore(t, tr, config, "b.txt"))
}

func TestOrchestrator_SkippedDependentDropsOutOfMetadata(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "twin",
		"b.txt": "twin",
	})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	_, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener := newRecordingListener()
	listener.onCompleted = func(path string, _ bool) {
		if path == "a.txt" {
			cancel()
		}
	}

	_, result = tr.execute(t, ctx, config, listener)
	require.Equal(t, JobStatusCancelled, result.Status)

	// b.txt pointed at the old a.txt payload and was not stored again
	assert.Equal(t, IncrementalMetadata{"a.txt": fingerprintOf("changed")}, tr.loadMetadata(t))

	job, result := tr.execute(t, context.Background(), config, nil)
	require.Equal(t, JobStatusCompleted, result.Status)
	assert.Equal(t, 1, job.Stats().FilesUploaded)
	assert.Equal(t, "twin", restore(t, tr, config, "b.txt"))
}

func TestOrchestrator_CancelledMidFileIsReportedSkipped(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	tr := newTestRun()
	config := NewBackupConfig(root, testDestination)
	config.Parallelism = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener := newRecordingListener()
	listener.onStarted = func(string) { cancel() }

	job, result := tr.execute(t, ctx, config, listener)
	require.Equal(t, JobStatusCancelled, result.Status)

	assert.Equal(t, []string{"a.txt"}, listener.started)
	assert.Equal(t, []string{"a.txt"}, listener.skipped)
	assert.Equal(t, map[string]bool{"a.txt": false}, listener.completed)
	assert.Equal(t, 2, job.Stats().FilesSkipped)
	assert.Equal(t, 0, job.Stats().FilesFailed)
}

func TestOrchestrator_DedupReferenceLookupFailureFailsJob(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "alpha"})
	storage := NewMemoryStorageProvider()

	store, mock := newMockDedupStore(t, SQLDialectSQLite)
	mock.ExpectQuery(dedupReferencesQuery).WithArgs("a.txt").WillReturnError(errors.New("connection reset"))

	job := NewOrchestrator().Execute(context.Background(), NewBackupConfig(root, testDestination),
		storage, store, NewStorageMetadataStore(storage, nil), nil)
	result := job.Wait()

	assert.Equal(t, JobStatusFailed, result.Status)
	assert.Contains(t, result.Message, "failed to check dedup references")
	assert.Equal(t, 0, storage.PutCount())
}

func TestResolvePayloadKey(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorageProvider()
	shared := fingerprintOf("shared")

	record := `{"path":"copy.txt","fingerprint":"` + string(shared) + `","reference":"owner.txt","owner":"owner.txt"}`
	require.NoError(t, storage.PutMeta(ctx, ReferenceKeyPrefix+"copy.txt", []byte(record)))
	require.NoError(t, storage.PutMeta(ctx, ReferenceKeyPrefix+"broken.txt", []byte("{")))

	tests := []struct {
		name     string
		rel      string
		fp       Fingerprint
		expected string
		wantErr  bool
	}{
		{name: "no record", rel: "owner.txt", fp: shared, expected: "owner.txt"},
		{name: "record for same content", rel: "copy.txt", fp: shared, expected: "owner.txt"},
		{name: "record left from older content", rel: "copy.txt", fp: fingerprintOf("newer"), expected: "copy.txt"},
		{name: "corrupt record", rel: "broken.txt", fp: shared, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ResolvePayloadKey(ctx, storage, tt.rel, tt.fp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, key)
		})
	}
}
