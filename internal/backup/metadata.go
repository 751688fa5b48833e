package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"file-backup-sync/internal/logging"
)

// MetadataKey is the meta key the incremental metadata document is stored under
const MetadataKey = ".backup_metadata"

const metadataDocumentVersion = 1

type metadataDocument struct {
	Version     int                    `json:"version"`
	Destination string                 `json:"destination"`
	CreatedAt   time.Time              `json:"created_at"`
	Files       map[string]Fingerprint `json:"files"`
}

// StorageMetadataStore keeps the incremental metadata document in the
// destination's meta side channel.
type StorageMetadataStore struct {
	storage StorageProvider
	logger  *logging.Logger
}

// NewStorageMetadataStore creates a metadata store backed by storage. A nil
// logger discards output.
func NewStorageMetadataStore(storage StorageProvider, logger *logging.Logger) *StorageMetadataStore {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &StorageMetadataStore{
		storage: storage,
		logger:  logger,
	}
}

// Load returns the fingerprints recorded by the last completed run. A
// missing document, or one written for another destination, yields an
// empty map.
func (s *StorageMetadataStore) Load(ctx context.Context, destination string) (IncrementalMetadata, error) {
	data, err := s.storage.GetMeta(ctx, MetadataKey)
	if err != nil {
		if errors.Is(err, ErrMetaNotFound) {
			return IncrementalMetadata{}, nil
		}
		return nil, NewStorageError("failed to load backup metadata", err)
	}

	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewCorruptionError("failed to parse backup metadata", err)
	}
	if doc.Version != metadataDocumentVersion {
		return nil, NewCorruptionError(fmt.Sprintf("unsupported metadata version %d", doc.Version), nil)
	}

	if doc.Destination != destination {
		s.logger.WithFields(map[string]interface{}{
			"expected": destination,
			"found":    doc.Destination,
		}).Warn("Backup metadata belongs to another destination, starting from scratch")
		return IncrementalMetadata{}, nil
	}

	metadata := make(IncrementalMetadata, len(doc.Files))
	for path, fp := range doc.Files {
		if !fp.IsValid() {
			s.logger.WithField("path", path).Warn("Ignoring invalid fingerprint in backup metadata")
			continue
		}
		metadata[path] = fp
	}
	return metadata, nil
}

// Save replaces the stored document with metadata
func (s *StorageMetadataStore) Save(ctx context.Context, destination string, metadata IncrementalMetadata) error {
	doc := metadataDocument{
		Version:     metadataDocumentVersion,
		Destination: destination,
		CreatedAt:   time.Now().UTC(),
		Files:       map[string]Fingerprint(metadata),
	}
	if doc.Files == nil {
		doc.Files = map[string]Fingerprint{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return NewStorageError("failed to serialize backup metadata", err)
	}

	if err := s.storage.PutMeta(ctx, MetadataKey, data); err != nil {
		return NewStorageError("failed to save backup metadata", err)
	}
	return nil
}
