package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

const (
	azureUploadBufferSize = 4 * 1024 * 1024
	azureUploadMaxBuffers = 4
)

// AzureStorageProvider implements StorageProvider for Azure Blob Storage
type AzureStorageProvider struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates a new AzureStorageProvider instance
func NewAzureStorageProvider(config *AzureConfig) (*AzureStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	provider := &AzureStorageProvider{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        config.Prefix,
	}

	return provider, nil
}

// Put streams content into a block blob without buffering the whole object
func (azp *AzureStorageProvider) Put(ctx context.Context, relativePath string, content io.Reader, sizeHint int64) error {
	key, err := cleanObjectKey(relativePath)
	if err != nil {
		return err
	}

	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(dataKeyPrefix, key))
	_, err = azblob.UploadStreamToBlockBlob(ctx, content, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: azureUploadBufferSize,
		MaxBuffers: azureUploadMaxBuffers,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
		Metadata: azblob.Metadata{
			"source_path": key,
			"source_size": fmt.Sprintf("%d", sizeHint),
		},
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to Azure", key), err)
	}

	return nil
}

// PutMeta uploads a small document
func (azp *AzureStorageProvider) PutMeta(ctx context.Context, key string, content []byte) error {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return err
	}

	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(metaKeyPrefix, cleaned))
	_, err = azblob.UploadBufferToBlockBlob(ctx, content, blobURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload meta document %s to Azure", cleaned), err)
	}

	return nil
}

// GetMeta downloads a document written by PutMeta
func (azp *AzureStorageProvider) GetMeta(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(metaKeyPrefix, cleaned))
	downloadResponse, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("meta document %s not found", cleaned), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download meta document %s from Azure", cleaned), err)
	}

	bodyStream := downloadResponse.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer bodyStream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, bodyStream); err != nil {
		return nil, NewStorageError("failed to read meta document from Azure", err)
	}

	return buf.Bytes(), nil
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if !errors.As(err, &stgErr) {
		return false
	}
	if stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return true
	}
	return stgErr.Response() != nil && stgErr.Response().StatusCode == http.StatusNotFound
}

func (azp *AzureStorageProvider) blobName(kind, key string) string {
	return path.Join(azp.prefix, kind, key)
}

// GetContainerName returns the container name
func (azp *AzureStorageProvider) GetContainerName() string {
	return azp.containerName
}

// GetStorageInfo returns information about the storage provider
func (azp *AzureStorageProvider) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":  "azure",
		"container": azp.containerName,
		"prefix":    azp.prefix,
	}
}

// HealthCheck verifies that the container is reachable
func (azp *AzureStorageProvider) HealthCheck(ctx context.Context) error {
	if _, err := azp.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewStorageError("Azure storage health check failed: cannot access container", err)
	}
	return nil
}
