package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3StorageProviderValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *S3Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &S3Config{
				Bucket:    "test-bucket",
				Region:    "us-east-1",
				AccessKey: "test-access-key",
				SecretKey: "test-secret-key",
			},
			wantErr: false,
		},
		{
			name: "default credential chain",
			config: &S3Config{
				Bucket: "test-bucket",
				Region: "eu-west-1",
			},
			wantErr: false,
		},
		{
			name: "custom endpoint",
			config: &S3Config{
				Bucket:   "test-bucket",
				Region:   "us-east-1",
				Endpoint: "http://localhost:9000",
			},
			wantErr: false,
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name: "missing bucket",
			config: &S3Config{
				Region: "us-east-1",
			},
			wantErr: true,
		},
		{
			name: "missing region",
			config: &S3Config{
				Bucket: "test-bucket",
			},
			wantErr: true,
		},
		{
			name: "access key without secret",
			config: &S3Config{
				Bucket:    "test-bucket",
				Region:    "us-east-1",
				AccessKey: "test-access-key",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3StorageProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewS3StorageProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestS3StorageProvider_ObjectKeys(t *testing.T) {
	provider, err := NewS3StorageProvider(&S3Config{
		Bucket: "test-bucket",
		Region: "us-east-1",
		Prefix: "nightly",
	})
	require.NoError(t, err)

	assert.Equal(t, "nightly/data/dir/a.txt", provider.objectKey(dataKeyPrefix, "dir/a.txt"))
	assert.Equal(t, "nightly/meta/.backup_metadata", provider.objectKey(metaKeyPrefix, MetadataKey))
	assert.Equal(t, "test-bucket", provider.GetBucket())

	info := provider.GetStorageInfo()
	assert.Equal(t, "s3", info["provider"])
}

func TestS3StorageProvider_RejectsEscapingKeys(t *testing.T) {
	provider, err := NewS3StorageProvider(&S3Config{Bucket: "b", Region: "us-east-1"})
	require.NoError(t, err)

	// key validation happens before any request is made
	err = provider.PutMeta(context.Background(), "../escape", []byte("x"))
	assert.Error(t, err)
	_, err = provider.GetMeta(context.Background(), "/abs")
	assert.Error(t, err)
}

func TestAzureStorageProviderValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *AzureConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: &AzureConfig{
				AccountName:   "testaccount",
				AccountKey:    "dGVzdC1hY2NvdW50LWtleQ==",
				ContainerName: "backups",
			},
			wantErr: false,
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name: "missing account name",
			config: &AzureConfig{
				AccountKey:    "dGVzdC1hY2NvdW50LWtleQ==",
				ContainerName: "backups",
			},
			wantErr: true,
		},
		{
			name: "missing container",
			config: &AzureConfig{
				AccountName: "testaccount",
				AccountKey:  "dGVzdC1hY2NvdW50LWtleQ==",
			},
			wantErr: true,
		},
		{
			name: "key is not base64",
			config: &AzureConfig{
				AccountName:   "testaccount",
				AccountKey:    "not base64 at all!",
				ContainerName: "backups",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAzureStorageProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAzureStorageProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAzureStorageProvider_BlobNames(t *testing.T) {
	provider, err := NewAzureStorageProvider(&AzureConfig{
		AccountName:   "testaccount",
		AccountKey:    "dGVzdC1hY2NvdW50LWtleQ==",
		ContainerName: "backups",
		Prefix:        "host-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "host-1/data/a/b.txt", provider.blobName(dataKeyPrefix, "a/b.txt"))
	assert.Equal(t, "host-1/meta/.refs/a/b.txt", provider.blobName(metaKeyPrefix, ReferenceKeyPrefix+"a/b.txt"))
	assert.Equal(t, "backups", provider.GetContainerName())
}

func TestGCSStorageProviderValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *GCSConfig
	}{
		{"nil config", nil},
		{"missing bucket", &GCSConfig{Prefix: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGCSStorageProvider(context.Background(), tt.config)
			require.Error(t, err)

			var backupErr *BackupError
			require.ErrorAs(t, err, &backupErr)
			assert.Equal(t, BackupErrorTypeValidation, backupErr.Type)
		})
	}
}
