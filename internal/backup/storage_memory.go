package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStorageProvider keeps payloads and meta documents in memory. It is
// used for dry runs and tests.
type MemoryStorageProvider struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string][]byte
	puts    int
}

// NewMemoryStorageProvider creates an empty in-memory destination
func NewMemoryStorageProvider() *MemoryStorageProvider {
	return &MemoryStorageProvider{
		objects: make(map[string][]byte),
		meta:    make(map[string][]byte),
	}
}

// Put buffers content and stores it under relativePath
func (m *MemoryStorageProvider) Put(ctx context.Context, relativePath string, content io.Reader, sizeHint int64) error {
	key, err := cleanObjectKey(relativePath)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if sizeHint > 0 {
		buf.Grow(int(sizeHint))
	}
	if _, err := io.Copy(&buf, content); err != nil {
		return NewStorageError(fmt.Sprintf("failed to read content for %s", key), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	m.puts++
	return nil
}

// PutMeta stores a copy of content under key
func (m *MemoryStorageProvider) PutMeta(ctx context.Context, key string, content []byte) error {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[cleaned] = append([]byte(nil), content...)
	return nil
}

// GetMeta returns a copy of the document stored under key
func (m *MemoryStorageProvider) GetMeta(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.meta[cleaned]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("meta document %s not found", cleaned), nil)
	}
	return append([]byte(nil), data...), nil
}

// Object returns the stored payload for key
func (m *MemoryStorageProvider) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

// ObjectKeys returns the sorted payload keys
func (m *MemoryStorageProvider) ObjectKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetaKeys returns the sorted meta document keys
func (m *MemoryStorageProvider) MetaKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.meta))
	for k := range m.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutCount returns the number of successful payload writes
func (m *MemoryStorageProvider) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
