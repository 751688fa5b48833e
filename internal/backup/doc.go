// Package backup implements an incremental, deduplicating file backup engine.
//
// A run walks a source tree, fingerprints every regular file with SHA-256 and
// compares the result with the metadata recorded by the previous run. Changed
// files are streamed through a rate limiter, an optional compressor and an
// optional AES-256-GCM stream cipher into a StorageProvider. Files whose
// content already exists at the destination are recorded as references
// instead of being uploaded again.
//
// Core Components:
//
//   - Orchestrator: runs jobs on a bounded worker pool and reports progress
//   - StorageProvider: local, in-memory, S3, Azure Blob and GCS destinations
//   - DedupStore: fingerprint index kept in memory or in SQLite/MySQL
//   - MetadataStore: path to fingerprint map persisted between runs
//   - Pipeline: compress-then-encrypt transform applied to every payload
//
// Example usage:
//
//	storage := backup.NewMemoryStorageProvider()
//	orchestrator := backup.NewOrchestrator(backup.WithLogger(logger))
//
//	job := orchestrator.Execute(ctx,
//		backup.NewBackupConfig("/srv/data", "memory://"),
//		storage,
//		backup.NewMemoryDedupStore(),
//		backup.NewStorageMetadataStore(storage, logger),
//		nil,
//	)
//
//	result := job.Wait()
//	if result.Status != backup.JobStatusCompleted {
//		return fmt.Errorf("backup did not complete: %s", result.Message)
//	}
package backup
