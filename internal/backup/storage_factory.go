package backup

import (
	"context"
	"fmt"
)

// HealthChecker is implemented by providers that can verify connectivity
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StorageInfoProvider is implemented by providers that describe themselves
type StorageInfoProvider interface {
	GetStorageInfo() map[string]interface{}
}

// StorageProviderFactory creates storage providers based on configuration
type StorageProviderFactory struct{}

// NewStorageProviderFactory creates a new storage provider factory
func NewStorageProviderFactory() *StorageProviderFactory {
	return &StorageProviderFactory{}
}

// CreateStorageProvider creates a storage provider based on the storage configuration
func (spf *StorageProviderFactory) CreateStorageProvider(ctx context.Context, config StorageConfig) (StorageProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageProvider(config.Local)

	case StorageProviderMemory:
		return NewMemoryStorageProvider(), nil

	case StorageProviderS3:
		return NewS3StorageProvider(config.S3)

	case StorageProviderAzure:
		return NewAzureStorageProvider(config.Azure)

	case StorageProviderGCS:
		return NewGCSStorageProvider(ctx, config.GCS)

	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// GetSupportedProviders returns a list of supported storage provider types
func (spf *StorageProviderFactory) GetSupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderMemory,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}

// CheckHealth runs the provider's health check when it has one
func CheckHealth(ctx context.Context, provider StorageProvider) error {
	if checker, ok := provider.(HealthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return nil
}

// DescribeStorage returns the provider's self description, or a minimal one
func DescribeStorage(provider StorageProvider) map[string]interface{} {
	if info, ok := provider.(StorageInfoProvider); ok {
		return info.GetStorageInfo()
	}
	return map[string]interface{}{"provider": fmt.Sprintf("%T", provider)}
}
