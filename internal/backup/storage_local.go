package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Destination layout shared by all providers: payloads live under data/,
// meta documents under meta/.
const (
	dataKeyPrefix = "data"
	metaKeyPrefix = "meta"
)

// cleanObjectKey normalizes a slash separated key and rejects keys that
// would escape the destination root.
func cleanObjectKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", NewValidationError(fmt.Sprintf("invalid object key %q", key), nil)
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", NewValidationError(fmt.Sprintf("object key %q escapes the destination", key), nil)
	}
	return cleaned, nil
}

// LocalStorageProvider implements StorageProvider for local file system storage
type LocalStorageProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates a new LocalStorageProvider instance
func NewLocalStorageProvider(config *LocalConfig) (*LocalStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid local storage configuration", err)
	}

	provider := &LocalStorageProvider{
		basePath:    config.BasePath,
		permissions: config.Permissions,
	}

	if err := provider.ensureBaseDirectory(); err != nil {
		return nil, NewStorageError("failed to create base directory", err)
	}

	return provider, nil
}

// Put streams content to <base>/data/<relativePath>. The file appears under
// its final name only once fully written.
func (lsp *LocalStorageProvider) Put(ctx context.Context, relativePath string, content io.Reader, sizeHint int64) error {
	key, err := cleanObjectKey(relativePath)
	if err != nil {
		return err
	}

	target := filepath.Join(lsp.basePath, dataKeyPrefix, filepath.FromSlash(key))
	return lsp.writeAtomic(ctx, target, content)
}

// PutMeta stores a small document under <base>/meta/<key>
func (lsp *LocalStorageProvider) PutMeta(ctx context.Context, key string, content []byte) error {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return err
	}

	target := filepath.Join(lsp.basePath, metaKeyPrefix, filepath.FromSlash(cleaned))
	return lsp.writeAtomic(ctx, target, bytes.NewReader(content))
}

// GetMeta reads a document written by PutMeta
func (lsp *LocalStorageProvider) GetMeta(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(lsp.basePath, metaKeyPrefix, filepath.FromSlash(cleaned)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("meta document %s not found", cleaned), err)
		}
		return nil, NewStorageError("failed to read meta document", err)
	}
	return data, nil
}

// writeAtomic writes into a temp file in the target directory and renames it
// into place, so readers never observe a partial object.
func (lsp *LocalStorageProvider) writeAtomic(ctx context.Context, target string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("write aborted", err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, lsp.permissions); err != nil {
		return NewStorageError(fmt.Sprintf("failed to create directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(target)+"-*")
	if err != nil {
		return NewStorageError("failed to create temporary file", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, content); err != nil {
		return NewStorageError(fmt.Sprintf("failed to write %s", target), err)
	}
	if err := tmp.Sync(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to sync %s", target), err)
	}
	if err := tmp.Close(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to close %s", target), err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return NewStorageError(fmt.Sprintf("failed to move %s into place", target), err)
	}

	committed = true
	return nil
}

// ensureBaseDirectory creates the base directory if it doesn't exist
func (lsp *LocalStorageProvider) ensureBaseDirectory() error {
	if err := os.MkdirAll(lsp.basePath, lsp.permissions); err != nil {
		return fmt.Errorf("failed to create base directory %s: %w", lsp.basePath, err)
	}
	return nil
}

// DataPath returns the file path a payload key is stored at
func (lsp *LocalStorageProvider) DataPath(relativePath string) string {
	return filepath.Join(lsp.basePath, dataKeyPrefix, filepath.FromSlash(relativePath))
}

// GetBasePath returns the base path for the storage provider
func (lsp *LocalStorageProvider) GetBasePath() string {
	return lsp.basePath
}

// GetStorageInfo returns information about the storage provider
func (lsp *LocalStorageProvider) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "local",
		"base_path":   lsp.basePath,
		"permissions": lsp.permissions.String(),
	}
}

// HealthCheck verifies that the storage provider is accessible and functional
func (lsp *LocalStorageProvider) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lsp.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0644); err != nil {
		return NewStorageError("storage provider health check failed: cannot write to base directory", err)
	}

	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("storage provider health check failed: cannot read from base directory", err)
	}

	os.Remove(testFile)
	return nil
}
