package backup

import (
	"os"
	"time"
)

// DefaultParallelism is the worker pool size used when none is configured
const DefaultParallelism = 4

// BackupConfig describes a single backup run. Treat it as immutable once the
// job has started; the orchestrator works on a normalized copy.
type BackupConfig struct {
	SourceRoot         string
	Destination        string
	Parallelism        int
	EncryptionEnabled  bool
	EncryptionKey      []byte
	// BytesPerSecond caps the read rate of the whole job; workers draw from
	// one shared budget. Zero means unlimited.
	BytesPerSecond     int64
	CompressionEnabled bool
	CompressionType    CompressionType
	CompressionLevel   int
	DedupEnabled       bool
	ExcludePatterns    []string
}

// NewBackupConfig returns a normalized configuration with compression and
// deduplication enabled and no encryption.
func NewBackupConfig(sourceRoot, destination string) BackupConfig {
	return BackupConfig{
		SourceRoot:         sourceRoot,
		Destination:        destination,
		Parallelism:        DefaultParallelism,
		CompressionEnabled: true,
		CompressionType:    CompressionTypeZstd,
		DedupEnabled:       true,
	}.Normalize()
}

// Normalize returns a copy with defaults applied. Parallelism is coerced to
// at least one and the key and pattern slices are copied.
func (c BackupConfig) Normalize() BackupConfig {
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	if c.BytesPerSecond < 0 {
		c.BytesPerSecond = 0
	}
	if c.CompressionEnabled && c.CompressionType == "" {
		c.CompressionType = CompressionTypeZstd
	}
	if !c.CompressionEnabled {
		c.CompressionType = CompressionTypeNone
	}
	if len(c.EncryptionKey) > 0 {
		c.EncryptionEnabled = true
		c.EncryptionKey = append([]byte(nil), c.EncryptionKey...)
	}
	if c.ExcludePatterns != nil {
		c.ExcludePatterns = append([]string(nil), c.ExcludePatterns...)
	}
	return c
}

// Validate checks the settings that must hold before any file is touched
func (c BackupConfig) Validate() error {
	var errs ValidationErrors

	if c.SourceRoot == "" {
		errs.Add("source_root", "source root is required", c.SourceRoot)
	}
	if c.Destination == "" {
		errs.Add("destination", "destination is required", c.Destination)
	}
	if c.EncryptionEnabled && len(c.EncryptionKey) == 0 {
		errs.Add("encryption_key", "encryption is enabled but no key was provided", nil)
	}
	if c.CompressionEnabled && !isValidCompressionType(c.CompressionType) {
		errs.Add("compression_type", "unsupported compression type", c.CompressionType)
	}

	if errs.HasErrors() {
		return NewConfigurationError("invalid backup configuration", errs)
	}
	return nil
}

// IncrementalMetadata maps a forward-slash relative path to the fingerprint
// recorded for it on the previous run.
type IncrementalMetadata map[string]Fingerprint

// DedupEntry records where the payload for a fingerprint was stored
type DedupEntry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Reference   string      `json:"reference"`
	Owner       string      `json:"owner"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ReferenceRecord is written in place of a payload when the content already
// exists at the destination under another path.
type ReferenceRecord struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Reference   string      `json:"reference"`
	Owner       string      `json:"owner"`
}

// FileTask is one unit of work produced by the source traversal
type FileTask struct {
	RelativePath string
	AbsolutePath string
	Size         int64
}

// JobStatus is the lifecycle state of a backup job
type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// BackupResult is the terminal outcome of a job
type BackupResult struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

func isValidCompressionType(t CompressionType) bool {
	switch t {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	}
	return false
}

// StorageConfig defines storage provider configuration
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider"`
	Local    *LocalConfig        `yaml:"local,omitempty"`
	S3       *S3Config           `yaml:"s3,omitempty"`
	Azure    *AzureConfig        `yaml:"azure,omitempty"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
	Prefix        string `yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
	Prefix          string `yaml:"prefix"`
}

type StorageProviderType string

const (
	StorageProviderLocal  StorageProviderType = "LOCAL"
	StorageProviderMemory StorageProviderType = "MEMORY"
	StorageProviderS3     StorageProviderType = "S3"
	StorageProviderAzure  StorageProviderType = "AZURE"
	StorageProviderGCS    StorageProviderType = "GCS"
)
