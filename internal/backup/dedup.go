package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DedupIndexKey is the meta key the in-memory dedup index is persisted under
const DedupIndexKey = ".backup_dedup"

const dedupIndexVersion = 1

type dedupIndexDocument struct {
	Version   int          `json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
	Entries   []DedupEntry `json:"entries"`
}

// MemoryDedupStore is a DedupStore backed by a map. The index can be loaded
// from and flushed to a destination so deduplication spans runs.
type MemoryDedupStore struct {
	mu          sync.RWMutex
	entries     map[Fingerprint]DedupEntry
	byReference map[string]map[Fingerprint]struct{}
	changes     uint64
	flushed     uint64
}

// NewMemoryDedupStore creates an empty store
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		entries:     make(map[Fingerprint]DedupEntry),
		byReference: make(map[string]map[Fingerprint]struct{}),
	}
}

// add indexes entry; the caller holds the write lock
func (s *MemoryDedupStore) add(entry DedupEntry) {
	s.entries[entry.Fingerprint] = entry
	fps, ok := s.byReference[entry.Reference]
	if !ok {
		fps = make(map[Fingerprint]struct{})
		s.byReference[entry.Reference] = fps
	}
	fps[entry.Fingerprint] = struct{}{}
}

// Has reports whether fp has been registered
func (s *MemoryDedupStore) Has(ctx context.Context, fp Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[fp]
	return ok, nil
}

// Get returns the entry for fp, or nil when unknown
func (s *MemoryDedupStore) Get(ctx context.Context, fp Fingerprint) (*DedupEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fp]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Put registers fp. The first registration wins; later calls are no-ops.
func (s *MemoryDedupStore) Put(ctx context.Context, fp Fingerprint, owner, reference string) error {
	if !fp.IsValid() {
		return NewValidationError(fmt.Sprintf("invalid fingerprint %q", fp), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fp]; ok {
		return nil
	}
	s.add(DedupEntry{
		Fingerprint: fp,
		Reference:   reference,
		Owner:       owner,
		CreatedAt:   time.Now().UTC(),
	})
	s.changes++
	return nil
}

// ReferencesTo lists the fingerprints stored under reference, sorted
func (s *MemoryDedupStore) ReferencesTo(ctx context.Context, reference string) ([]Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fps := s.byReference[reference]
	if len(fps) == 0 {
		return nil, nil
	}
	out := make([]Fingerprint, 0, len(fps))
	for fp := range fps {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Remove forgets fp
func (s *MemoryDedupStore) Remove(ctx context.Context, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fp]
	if !ok {
		return nil
	}
	delete(s.entries, fp)
	if fps := s.byReference[entry.Reference]; fps != nil {
		delete(fps, fp)
		if len(fps) == 0 {
			delete(s.byReference, entry.Reference)
		}
	}
	s.changes++
	return nil
}

// Len returns the number of registered fingerprints
func (s *MemoryDedupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Load merges the persisted index from storage. A missing index is not an
// error. Entries already in memory take precedence.
func (s *MemoryDedupStore) Load(ctx context.Context, storage StorageProvider) error {
	data, err := storage.GetMeta(ctx, DedupIndexKey)
	if err != nil {
		if errors.Is(err, ErrMetaNotFound) {
			return nil
		}
		return NewIndexError("failed to load dedup index", err)
	}

	var doc dedupIndexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewCorruptionError("failed to parse dedup index", err)
	}
	if doc.Version != dedupIndexVersion {
		return NewCorruptionError(fmt.Sprintf("unsupported dedup index version %d", doc.Version), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range doc.Entries {
		if !entry.Fingerprint.IsValid() {
			continue
		}
		if _, ok := s.entries[entry.Fingerprint]; !ok {
			s.add(entry)
		}
	}
	return nil
}

// Flush writes the whole index to storage if it changed since the last
// Load or Flush.
func (s *MemoryDedupStore) Flush(ctx context.Context, storage StorageProvider) error {
	s.mu.RLock()
	if s.changes == s.flushed {
		s.mu.RUnlock()
		return nil
	}
	snapshot := s.changes
	doc := dedupIndexDocument{
		Version:   dedupIndexVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   make([]DedupEntry, 0, len(s.entries)),
	}
	for _, entry := range s.entries {
		doc.Entries = append(doc.Entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].Fingerprint < doc.Entries[j].Fingerprint
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return NewIndexError("failed to serialize dedup index", err)
	}

	if err := storage.PutMeta(ctx, DedupIndexKey, data); err != nil {
		return NewIndexError("failed to persist dedup index", err)
	}

	s.mu.Lock()
	if snapshot > s.flushed {
		s.flushed = snapshot
	}
	s.mu.Unlock()
	return nil
}
