package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider implements StorageProvider for Google Cloud Storage
type GCSStorageProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStorageProvider creates a new GCSStorageProvider instance
func NewGCSStorageProvider(ctx context.Context, config *GCSConfig) (*GCSStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid GCS storage configuration", err)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	provider := &GCSStorageProvider{
		client:     client,
		bucketName: config.Bucket,
		prefix:     config.Prefix,
	}

	return provider, nil
}

// Put streams content into an object. The object becomes visible only when
// the writer is closed successfully.
func (gcsp *GCSStorageProvider) Put(ctx context.Context, relativePath string, content io.Reader, sizeHint int64) error {
	key, err := cleanObjectKey(relativePath)
	if err != nil {
		return err
	}

	// Cancelling the writer context aborts the upload without committing.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := gcsp.object(dataKeyPrefix, key).NewWriter(writeCtx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = map[string]string{
		"source-path": key,
		"source-size": fmt.Sprintf("%d", sizeHint),
	}

	if _, err := io.Copy(writer, content); err != nil {
		cancel()
		writer.Close()
		return NewStorageError(fmt.Sprintf("failed to upload %s to GCS", key), err)
	}

	if err := writer.Close(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to finalize %s in GCS", key), err)
	}

	return nil
}

// PutMeta uploads a small document
func (gcsp *GCSStorageProvider) PutMeta(ctx context.Context, key string, content []byte) error {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return err
	}

	writer := gcsp.object(metaKeyPrefix, cleaned).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return NewStorageError(fmt.Sprintf("failed to write meta document %s to GCS", cleaned), err)
	}

	if err := writer.Close(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to finalize meta document %s in GCS", cleaned), err)
	}

	return nil
}

// GetMeta downloads a document written by PutMeta
func (gcsp *GCSStorageProvider) GetMeta(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	reader, err := gcsp.object(metaKeyPrefix, cleaned).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("meta document %s not found", cleaned), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open meta document %s in GCS", cleaned), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewStorageError("failed to read meta document from GCS", err)
	}

	return data, nil
}

func (gcsp *GCSStorageProvider) object(kind, key string) *storage.ObjectHandle {
	return gcsp.client.Bucket(gcsp.bucketName).Object(path.Join(gcsp.prefix, kind, key))
}

// Close releases the underlying client
func (gcsp *GCSStorageProvider) Close() error {
	return gcsp.client.Close()
}

// GetBucketName returns the bucket name
func (gcsp *GCSStorageProvider) GetBucketName() string {
	return gcsp.bucketName
}

// GetStorageInfo returns information about the storage provider
func (gcsp *GCSStorageProvider) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "gcs",
		"bucket":   gcsp.bucketName,
		"prefix":   gcsp.prefix,
	}
}

// HealthCheck verifies that the bucket is reachable and listable
func (gcsp *GCSStorageProvider) HealthCheck(ctx context.Context) error {
	bucket := gcsp.client.Bucket(gcsp.bucketName)

	if _, err := bucket.Attrs(ctx); err != nil {
		return NewStorageError("GCS storage health check failed: cannot access bucket", err)
	}

	it := bucket.Objects(ctx, &storage.Query{Prefix: path.Join(gcsp.prefix, metaKeyPrefix)})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return NewStorageError("GCS storage health check failed: cannot list objects", err)
	}

	return nil
}
