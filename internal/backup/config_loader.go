package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigLoader handles loading and parsing backup configuration
type ConfigLoader struct {
	configPath string
	overrides  []func(*BackupSystemConfig)
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader(configPath string) *ConfigLoader {
	return &ConfigLoader{
		configPath: configPath,
	}
}

// AddOverride registers fn to run after the file and environment have been
// applied and before defaults and validation. The CLI uses it for flags.
func (cl *ConfigLoader) AddOverride(fn func(*BackupSystemConfig)) {
	cl.overrides = append(cl.overrides, fn)
}

// LoadConfig loads the backup configuration from file and environment
// variables. Values are layered: defaults, then the file, then BACKUP_*
// variables, then overrides.
func (cl *ConfigLoader) LoadConfig() (*BackupSystemConfig, error) {
	config := GenerateDefaultConfig()

	if cl.configPath != "" {
		if err := cl.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.LoadFromEnvironment()
	for _, override := range cl.overrides {
		override(config)
	}
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file. A missing file leaves
// the defaults in place.
func (cl *ConfigLoader) loadFromFile(config *BackupSystemConfig) error {
	if _, err := os.Stat(cl.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(cl.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cl.configPath, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// SaveConfig saves the backup configuration to a YAML file
func (cl *ConfigLoader) SaveConfig(config *BackupSystemConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	dir := filepath.Dir(cl.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(cl.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfigFromBytes loads configuration from YAML bytes
func LoadConfigFromBytes(data []byte) (*BackupSystemConfig, error) {
	config := GenerateDefaultConfig()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.LoadFromEnvironment()
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// GenerateDefaultConfig returns a fully populated default configuration.
// The source directory is left empty and must be provided.
func GenerateDefaultConfig() *BackupSystemConfig {
	return &BackupSystemConfig{
		Parallelism: DefaultParallelism,
		Storage: StorageConfig{
			Provider: StorageProviderLocal,
			Local: &LocalConfig{
				BasePath:    "./backups",
				Permissions: 0755,
			},
		},
		Compression: CompressionConfig{
			Enabled:   true,
			Algorithm: CompressionTypeZstd,
			Level:     3,
		},
		Encryption: EncryptionConfig{
			Enabled:   false,
			KeySource: KeySourceEnv,
			KeyEnvVar: defaultKeyEnvVar,
		},
		Dedup: DedupConfig{
			Enabled: true,
			Backend: DedupBackendMemory,
		},
		Logging: LoggingConfig{
			Level:  "normal",
			Format: "text",
		},
	}
}

// GenerateDefaultConfigYAML generates a default configuration as YAML with comments
func GenerateDefaultConfigYAML() ([]byte, error) {
	configYAML := `# file-backup-sync configuration

# Directory to back up
source: "./data"

# Identifier of the destination; derived from the storage settings when empty
# destination: ""

# Number of files processed concurrently
parallelism: 4

# Upload throughput ceiling in bytes per second (0 = unlimited)
bytes_per_second: 0

# Glob patterns matched against the relative path and the base name
exclude:
  - "*.tmp"
  - ".git"

# Storage configuration
storage:
  # Storage provider: LOCAL, MEMORY, S3, AZURE, GCS
  provider: LOCAL

  # Local storage configuration (when provider is LOCAL)
  local:
    base_path: "./backups"
    permissions: 0755

  # S3 storage configuration (when provider is S3)
  # s3:
  #   bucket: "my-backup-bucket"
  #   region: "us-east-1"
  #   prefix: "hosts/web-1"
  #   endpoint: ""            # S3 compatible endpoint, e.g. MinIO
  #   access_key: ""          # empty uses the default credential chain
  #   secret_key: ""

  # Azure storage configuration (when provider is AZURE)
  # azure:
  #   account_name: "your-account-name"
  #   account_key: "your-account-key"
  #   container_name: "backups"

  # Google Cloud Storage configuration (when provider is GCS)
  # gcs:
  #   bucket: "my-backup-bucket"
  #   credentials_path: "/path/to/credentials.json"
  #   project_id: "your-project-id"

# Compression settings
compression:
  enabled: true

  # Compression algorithm: GZIP, LZ4, ZSTD
  algorithm: ZSTD

  # Compression level (1-9 for GZIP, 1-12 for LZ4, 1-22 for ZSTD)
  level: 3

# Encryption settings (AES-256-GCM)
encryption:
  enabled: false

  # Key source: env (hex key), file (raw or hex key), passphrase
  key_source: env

  # Environment variable holding the hex key, or the passphrase
  key_env_var: BACKUP_ENCRYPTION_KEY

  # Path to key file (when key_source is file)
  # key_path: "/path/to/encryption.key"

# Deduplication index
dedup:
  enabled: true

  # Backend: memory (persisted at the destination), sqlite, mysql
  backend: memory

  # DSN for sqlite (file path) or mysql (user:pass@tcp(host:3306)/db)
  # dsn: ""

# Logging
logging:
  # Level: quiet, normal, verbose, debug
  level: normal

  # Format: text, json
  format: text

  # file: "/var/log/file-backup-sync.log"
  # audit_file: "/var/log/file-backup-sync-audit.json"
`

	return []byte(configYAML), nil
}
