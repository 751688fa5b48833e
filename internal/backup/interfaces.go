package backup

import (
	"context"
	"io"
)

// StorageProvider abstracts the destination of a backup. Payloads are
// streamed through Put; small documents (metadata, dedup index, reference
// records) go through the meta side channel, keyed separately.
type StorageProvider interface {
	Put(ctx context.Context, relativePath string, content io.Reader, sizeHint int64) error
	PutMeta(ctx context.Context, key string, content []byte) error
	// GetMeta returns ErrMetaNotFound when nothing is stored under key.
	GetMeta(ctx context.Context, key string) ([]byte, error)
}

// DedupStore maps content fingerprints to the location of their payload.
// Implementations must be safe for concurrent use. Put keeps the first
// entry written for a fingerprint and ignores later ones.
//
// A payload lives under the path that first produced it, and that path is
// overwritten when its file changes. ReferencesTo and Remove let the
// orchestrator drop entries before their payload is replaced.
type DedupStore interface {
	Has(ctx context.Context, fp Fingerprint) (bool, error)
	Get(ctx context.Context, fp Fingerprint) (*DedupEntry, error)
	Put(ctx context.Context, fp Fingerprint, owner, reference string) error
	// ReferencesTo lists the fingerprints whose payload is stored under reference.
	ReferencesTo(ctx context.Context, reference string) ([]Fingerprint, error)
	// Remove forgets fp. Removing an unknown fingerprint is not an error.
	Remove(ctx context.Context, fp Fingerprint) error
}

// MetadataStore persists the path to fingerprint map between runs
type MetadataStore interface {
	// Load returns an empty map when no document exists yet.
	Load(ctx context.Context, destination string) (IncrementalMetadata, error)
	// Save replaces the whole document.
	Save(ctx context.Context, destination string, metadata IncrementalMetadata) error
}

// ProgressListener receives job events synchronously from worker goroutines.
// For a single file the order is FileStarted, FileProgress*, FileCompleted.
// Implementations must be safe for concurrent use and should return quickly.
type ProgressListener interface {
	FileStarted(path string)
	FileProgress(path string, bytesDone, bytesTotal int64)
	FileCompleted(path string, success bool)
	OverallProgress(filesDone, filesTotal int)
}
