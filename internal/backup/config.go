package backup

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// Key sources for EncryptionConfig.KeySource
const (
	KeySourceEnv        = "env"
	KeySourceFile       = "file"
	KeySourcePassphrase = "passphrase"
)

// Dedup index backends for DedupConfig.Backend
const (
	DedupBackendMemory = "memory"
	DedupBackendSQLite = "sqlite"
	DedupBackendMySQL  = "mysql"
)

const (
	defaultKeyEnvVar        = "BACKUP_ENCRYPTION_KEY"
	defaultPassphraseEnvVar = "BACKUP_ENCRYPTION_PASSPHRASE"
	defaultSQLiteIndexName  = ".backup_dedup.db"
)

// BackupSystemConfig represents the complete backup configuration as read
// from a YAML file and the environment.
type BackupSystemConfig struct {
	Source         string            `yaml:"source"`
	Destination    string            `yaml:"destination"`
	Parallelism    int               `yaml:"parallelism"`
	BytesPerSecond int64             `yaml:"bytes_per_second"`
	Exclude        []string          `yaml:"exclude"`
	Storage        StorageConfig     `yaml:"storage"`
	Compression    CompressionConfig `yaml:"compression"`
	Encryption     EncryptionConfig  `yaml:"encryption"`
	Dedup          DedupConfig       `yaml:"dedup"`
	Logging        LoggingConfig     `yaml:"logging"`
}

// CompressionConfig defines compression settings
type CompressionConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Algorithm CompressionType `yaml:"algorithm"`
	Level     int             `yaml:"level"`
}

// EncryptionConfig defines encryption settings
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeySource string `yaml:"key_source"`  // "env", "file", "passphrase"
	KeyPath   string `yaml:"key_path"`    // Path to key file
	KeyEnvVar string `yaml:"key_env_var"` // Environment variable holding the key or passphrase

	// KeyRetriever overrides the configured source. The CLI uses it to
	// prompt for a passphrase; tests use it to inject keys.
	KeyRetriever func() ([]byte, error) `yaml:"-" json:"-"`
}

// DedupConfig selects the deduplication index
type DedupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "memory", "sqlite", "mysql"
	DSN     string `yaml:"dsn"`
}

// LoggingConfig defines log output
type LoggingConfig struct {
	Level     string `yaml:"level"`  // quiet, normal, verbose, debug
	Format    string `yaml:"format"` // text, json
	File      string `yaml:"file"`
	AuditFile string `yaml:"audit_file"`
}

// Validate validates the BackupSystemConfig
func (bsc *BackupSystemConfig) Validate() error {
	var errors ValidationErrors

	if bsc.Source == "" {
		errors.Add("source", "source directory is required", bsc.Source)
	}

	if bsc.Parallelism < 0 {
		errors.Add("parallelism", "parallelism cannot be negative", bsc.Parallelism)
	}

	if bsc.BytesPerSecond < 0 {
		errors.Add("bytes_per_second", "bytes per second cannot be negative", bsc.BytesPerSecond)
	}

	for _, pattern := range bsc.Exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			errors.Add("exclude", "invalid exclude pattern", pattern)
		}
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{"storage", bsc.Storage.Validate},
		{"compression", bsc.Compression.Validate},
		{"encryption", bsc.Encryption.Validate},
		{"dedup", bsc.Dedup.Validate},
		{"logging", bsc.Logging.Validate},
	}
	for _, section := range sections {
		if err := section.fn(); err != nil {
			if validationErrs, ok := err.(ValidationErrors); ok {
				errors = append(errors, validationErrs...)
			} else {
				errors.Add(section.name, err.Error(), nil)
			}
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults fills unset values. Boolean switches are left alone; use
// GenerateDefaultConfig for a fully populated configuration.
func (bsc *BackupSystemConfig) SetDefaults() {
	if bsc.Parallelism == 0 {
		bsc.Parallelism = DefaultParallelism
	}

	bsc.Storage.SetDefaults()
	bsc.Compression.SetDefaults()
	bsc.Encryption.SetDefaults()
	bsc.Dedup.SetDefaults(bsc.Storage)
	bsc.Logging.SetDefaults()

	if bsc.Destination == "" {
		bsc.Destination = bsc.Storage.DestinationID()
	}
}

// LoadFromEnvironment loads configuration values from environment variables
func (bsc *BackupSystemConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_SOURCE"); val != "" {
		bsc.Source = val
	}

	if val := os.Getenv("BACKUP_DESTINATION"); val != "" {
		bsc.Destination = val
	}

	if val := os.Getenv("BACKUP_PARALLELISM"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			bsc.Parallelism = parsed
		}
	}

	if val := os.Getenv("BACKUP_BYTES_PER_SECOND"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			bsc.BytesPerSecond = parsed
		}
	}

	if val := os.Getenv("BACKUP_EXCLUDE"); val != "" {
		bsc.Exclude = splitList(val)
	}

	bsc.Storage.LoadFromEnvironment()
	bsc.Compression.LoadFromEnvironment()
	bsc.Encryption.LoadFromEnvironment()
	bsc.Dedup.LoadFromEnvironment()
	bsc.Logging.LoadFromEnvironment()
}

// ToBackupConfig resolves the encryption key and builds the job config
func (bsc *BackupSystemConfig) ToBackupConfig() (BackupConfig, error) {
	key, err := bsc.Encryption.GetEncryptionKey()
	if err != nil {
		return BackupConfig{}, err
	}

	destination := bsc.Destination
	if destination == "" {
		destination = bsc.Storage.DestinationID()
	}

	config := BackupConfig{
		SourceRoot:         bsc.Source,
		Destination:        destination,
		Parallelism:        bsc.Parallelism,
		EncryptionEnabled:  bsc.Encryption.Enabled,
		EncryptionKey:      key,
		BytesPerSecond:     bsc.BytesPerSecond,
		CompressionEnabled: bsc.Compression.Enabled,
		CompressionType:    bsc.Compression.Algorithm,
		CompressionLevel:   bsc.Compression.Level,
		DedupEnabled:       bsc.Dedup.Enabled,
		ExcludePatterns:    bsc.Exclude,
	}
	if config.Parallelism == 0 {
		config.Parallelism = DefaultParallelism
	}
	return config.Normalize(), nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the CompressionConfig
func (cc *CompressionConfig) Validate() error {
	var errors ValidationErrors

	if cc.Enabled {
		if !isValidCompressionType(cc.Algorithm) {
			errors.Add("algorithm", "invalid compression algorithm", cc.Algorithm)
		}

		switch cc.Algorithm {
		case CompressionTypeGzip:
			if cc.Level < 1 || cc.Level > 9 {
				errors.Add("level", "gzip compression level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeLZ4:
			if cc.Level < 1 || cc.Level > 12 {
				errors.Add("level", "lz4 compression level must be between 1 and 12", cc.Level)
			}
		case CompressionTypeZstd:
			if cc.Level < 1 || cc.Level > 22 {
				errors.Add("level", "zstd compression level must be between 1 and 22", cc.Level)
			}
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for compression configuration
func (cc *CompressionConfig) SetDefaults() {
	if cc.Enabled && cc.Algorithm == "" {
		cc.Algorithm = CompressionTypeZstd
	}

	if cc.Enabled && cc.Level == 0 {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			cc.Level = 6
		case CompressionTypeLZ4:
			cc.Level = 1
		case CompressionTypeZstd:
			cc.Level = 3
		}
	}
}

// LoadFromEnvironment loads compression configuration from environment variables
func (cc *CompressionConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_COMPRESSION_ENABLED"); val != "" {
		cc.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("BACKUP_COMPRESSION_ALGORITHM"); val != "" {
		cc.Algorithm = CompressionType(strings.ToUpper(val))
	}

	if val := os.Getenv("BACKUP_COMPRESSION_LEVEL"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cc.Level = parsed
		}
	}
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	var errors ValidationErrors

	if ec.Enabled {
		switch ec.KeySource {
		case "":
			errors.Add("key_source", "key source is required when encryption is enabled", ec.KeySource)
		case KeySourceEnv:
			if ec.KeyEnvVar == "" {
				errors.Add("key_env_var", "key environment variable name is required for env key source", ec.KeyEnvVar)
			}
		case KeySourceFile:
			if ec.KeyPath == "" {
				errors.Add("key_path", "key file path is required for file key source", ec.KeyPath)
			}
		case KeySourcePassphrase:
			// read from KeyEnvVar or prompted for by the caller
		default:
			errors.Add("key_source", "invalid key source, must be 'env', 'file', or 'passphrase'", ec.KeySource)
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for encryption configuration
func (ec *EncryptionConfig) SetDefaults() {
	if ec.Enabled && ec.KeySource == "" {
		ec.KeySource = KeySourceEnv
	}

	if ec.KeyEnvVar == "" {
		switch ec.KeySource {
		case KeySourceEnv:
			ec.KeyEnvVar = defaultKeyEnvVar
		case KeySourcePassphrase:
			ec.KeyEnvVar = defaultPassphraseEnvVar
		}
	}
}

// LoadFromEnvironment loads encryption configuration from environment variables
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_ENCRYPTION_ENABLED"); val != "" {
		ec.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("BACKUP_ENCRYPTION_KEY_SOURCE"); val != "" {
		ec.KeySource = strings.ToLower(val)
	}

	if val := os.Getenv("BACKUP_ENCRYPTION_KEY_PATH"); val != "" {
		ec.KeyPath = val
	}

	if val := os.Getenv("BACKUP_ENCRYPTION_KEY_ENV_VAR"); val != "" {
		ec.KeyEnvVar = val
	}
}

// GetEncryptionKey retrieves the encryption key based on the configuration.
// A passphrase is returned as is; the pipeline stretches it with a
// per-stream salt.
func (ec *EncryptionConfig) GetEncryptionKey() ([]byte, error) {
	if !ec.Enabled {
		return nil, nil
	}

	if ec.KeyRetriever != nil {
		return ec.KeyRetriever()
	}

	km := NewKeyManager()

	switch ec.KeySource {
	case KeySourceEnv:
		key, err := km.LoadKeyFromEnv(ec.KeyEnvVar)
		if err != nil {
			return nil, err
		}
		if err := km.ValidateKey(key); err != nil {
			return nil, err
		}
		return key, nil

	case KeySourceFile:
		key, err := km.LoadKeyFromFile(ec.KeyPath)
		if err != nil {
			return nil, err
		}
		if err := km.ValidateKey(key); err != nil {
			return nil, err
		}
		return key, nil

	case KeySourcePassphrase:
		passphrase := os.Getenv(ec.KeyEnvVar)
		if passphrase == "" {
			return nil, NewConfigurationError(fmt.Sprintf("passphrase not found in environment variable %s", ec.KeyEnvVar), nil)
		}
		return []byte(passphrase), nil

	default:
		return nil, NewConfigurationError(fmt.Sprintf("invalid key source: %s", ec.KeySource), nil)
	}
}

// Validate validates the DedupConfig
func (dc *DedupConfig) Validate() error {
	var errors ValidationErrors

	if dc.Enabled {
		switch dc.Backend {
		case DedupBackendMemory:
		case DedupBackendSQLite, DedupBackendMySQL:
			if dc.DSN == "" {
				errors.Add("dsn", "a DSN is required for the "+dc.Backend+" dedup backend", dc.DSN)
			}
		default:
			errors.Add("backend", "invalid dedup backend, must be 'memory', 'sqlite', or 'mysql'", dc.Backend)
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for the dedup index. A SQLite index next
// to a local destination gets a default path.
func (dc *DedupConfig) SetDefaults(storage StorageConfig) {
	if dc.Backend == "" {
		dc.Backend = DedupBackendMemory
	}

	if dc.Backend == DedupBackendSQLite && dc.DSN == "" &&
		storage.Provider == StorageProviderLocal && storage.Local != nil && storage.Local.BasePath != "" {
		dc.DSN = filepath.Join(storage.Local.BasePath, defaultSQLiteIndexName)
	}
}

// LoadFromEnvironment loads dedup configuration from environment variables
func (dc *DedupConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_DEDUP_ENABLED"); val != "" {
		dc.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("BACKUP_DEDUP_BACKEND"); val != "" {
		dc.Backend = strings.ToLower(val)
	}

	if val := os.Getenv("BACKUP_DEDUP_DSN"); val != "" {
		dc.DSN = val
	}
}

// Validate validates the LoggingConfig
func (lc *LoggingConfig) Validate() error {
	var errors ValidationErrors

	switch lc.Level {
	case "quiet", "normal", "verbose", "debug":
	default:
		errors.Add("level", "invalid log level, must be 'quiet', 'normal', 'verbose', or 'debug'", lc.Level)
	}

	switch lc.Format {
	case "text", "json":
	default:
		errors.Add("format", "invalid log format, must be 'text' or 'json'", lc.Format)
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for logging configuration
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = "normal"
	}

	if lc.Format == "" {
		lc.Format = "text"
	}
}

// LoadFromEnvironment loads logging configuration from environment variables
func (lc *LoggingConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_LOG_LEVEL"); val != "" {
		lc.Level = strings.ToLower(val)
	}

	if val := os.Getenv("BACKUP_LOG_FORMAT"); val != "" {
		lc.Format = strings.ToLower(val)
	}

	if val := os.Getenv("BACKUP_LOG_FILE"); val != "" {
		lc.File = val
	}

	if val := os.Getenv("BACKUP_AUDIT_LOG_FILE"); val != "" {
		lc.AuditFile = val
	}
}

// Validate validates the StorageConfig
func (sc *StorageConfig) Validate() error {
	var errors ValidationErrors

	if !isValidStorageProviderType(sc.Provider) {
		errors.Add("provider", "invalid storage provider type", sc.Provider)
		return errors
	}

	var section interface{ Validate() error }
	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			errors.Add("local", "local storage configuration is required", nil)
		} else {
			section = sc.Local
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			errors.Add("s3", "S3 storage configuration is required", nil)
		} else {
			section = sc.S3
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			errors.Add("azure", "Azure storage configuration is required", nil)
		} else {
			section = sc.Azure
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			errors.Add("gcs", "GCS storage configuration is required", nil)
		} else {
			section = sc.GCS
		}
	}

	if section != nil {
		if err := section.Validate(); err != nil {
			if validationErrs, ok := err.(ValidationErrors); ok {
				errors = append(errors, validationErrs...)
			} else {
				errors.Add(strings.ToLower(string(sc.Provider)), err.Error(), nil)
			}
		}
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

func isValidStorageProviderType(provider StorageProviderType) bool {
	switch provider {
	case StorageProviderLocal, StorageProviderMemory, StorageProviderS3, StorageProviderAzure, StorageProviderGCS:
		return true
	}
	return false
}

// DestinationID returns a stable identifier of the configured destination.
// It keys the incremental metadata document.
func (sc *StorageConfig) DestinationID() string {
	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local != nil {
			if abs, err := filepath.Abs(sc.Local.BasePath); err == nil {
				return "local://" + filepath.ToSlash(abs)
			}
			return "local://" + sc.Local.BasePath
		}
	case StorageProviderS3:
		if sc.S3 != nil {
			return "s3://" + path.Join(sc.S3.Bucket, sc.S3.Prefix)
		}
	case StorageProviderAzure:
		if sc.Azure != nil {
			return "azure://" + path.Join(sc.Azure.AccountName, sc.Azure.ContainerName, sc.Azure.Prefix)
		}
	case StorageProviderGCS:
		if sc.GCS != nil {
			return "gs://" + path.Join(sc.GCS.Bucket, sc.GCS.Prefix)
		}
	case StorageProviderMemory:
		return "memory://"
	}
	return strings.ToLower(string(sc.Provider)) + "://"
}

// SetDefaults sets default values for storage configuration
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.SetDefaults()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.SetDefaults()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.SetDefaults()
	}
}

// LoadFromEnvironment loads storage configuration from environment variables
func (sc *StorageConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_STORAGE_PROVIDER"); val != "" {
		sc.Provider = StorageProviderType(strings.ToUpper(val))
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.LoadFromEnvironment()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.LoadFromEnvironment()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		sc.Azure.LoadFromEnvironment()
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.LoadFromEnvironment()
	}
}

// Validate validates the LocalConfig
func (lc *LocalConfig) Validate() error {
	var errors ValidationErrors

	if lc.BasePath == "" {
		errors.Add("base_path", "base path is required for local storage", lc.BasePath)
	}

	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "./backups"
	}

	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}
}

// LoadFromEnvironment loads local storage configuration from environment variables
func (lc *LocalConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_LOCAL_BASE_PATH"); val != "" {
		lc.BasePath = val
	}

	if val := os.Getenv("BACKUP_LOCAL_PERMISSIONS"); val != "" {
		if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
			lc.Permissions = os.FileMode(parsed)
		}
	}
}

// Validate validates the S3Config. Credentials are optional and fall back
// to the SDK's default chain, but must be given as a pair.
func (s3c *S3Config) Validate() error {
	var errors ValidationErrors

	if s3c.Bucket == "" {
		errors.Add("bucket", "S3 bucket name is required", s3c.Bucket)
	}

	if s3c.Region == "" {
		errors.Add("region", "S3 region is required", s3c.Region)
	}

	if (s3c.AccessKey == "") != (s3c.SecretKey == "") {
		errors.Add("access_key", "S3 access key and secret key must be set together", nil)
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
}

// LoadFromEnvironment loads S3 storage configuration from environment variables
func (s3c *S3Config) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_S3_BUCKET"); val != "" {
		s3c.Bucket = val
	}

	if val := os.Getenv("BACKUP_S3_REGION"); val != "" {
		s3c.Region = val
	}

	if val := os.Getenv("BACKUP_S3_PREFIX"); val != "" {
		s3c.Prefix = val
	}

	if val := os.Getenv("BACKUP_S3_ENDPOINT"); val != "" {
		s3c.Endpoint = val
	}

	if val := os.Getenv("BACKUP_S3_ACCESS_KEY"); val != "" {
		s3c.AccessKey = val
	}

	if val := os.Getenv("BACKUP_S3_SECRET_KEY"); val != "" {
		s3c.SecretKey = val
	}
}

// Validate validates the AzureConfig
func (ac *AzureConfig) Validate() error {
	var errors ValidationErrors

	if ac.AccountName == "" {
		errors.Add("account_name", "Azure account name is required", ac.AccountName)
	}

	if ac.AccountKey == "" {
		errors.Add("account_key", "Azure account key is required", ac.AccountKey)
	}

	if ac.ContainerName == "" {
		errors.Add("container_name", "Azure container name is required", ac.ContainerName)
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// LoadFromEnvironment loads Azure storage configuration from environment variables
func (ac *AzureConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_AZURE_ACCOUNT_NAME"); val != "" {
		ac.AccountName = val
	}

	if val := os.Getenv("BACKUP_AZURE_ACCOUNT_KEY"); val != "" {
		ac.AccountKey = val
	}

	if val := os.Getenv("BACKUP_AZURE_CONTAINER_NAME"); val != "" {
		ac.ContainerName = val
	}

	if val := os.Getenv("BACKUP_AZURE_PREFIX"); val != "" {
		ac.Prefix = val
	}
}

// Validate validates the GCSConfig. Without a credentials file the client
// uses application default credentials.
func (gc *GCSConfig) Validate() error {
	var errors ValidationErrors

	if gc.Bucket == "" {
		errors.Add("bucket", "GCS bucket name is required", gc.Bucket)
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// SetDefaults sets default values for GCS storage configuration
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// LoadFromEnvironment loads GCS storage configuration from environment variables
func (gc *GCSConfig) LoadFromEnvironment() {
	if val := os.Getenv("BACKUP_GCS_BUCKET"); val != "" {
		gc.Bucket = val
	}

	if val := os.Getenv("BACKUP_GCS_CREDENTIALS_PATH"); val != "" {
		gc.CredentialsPath = val
	}

	if val := os.Getenv("BACKUP_GCS_PROJECT_ID"); val != "" {
		gc.ProjectID = val
	}

	if val := os.Getenv("BACKUP_GCS_PREFIX"); val != "" {
		gc.Prefix = val
	}
}
