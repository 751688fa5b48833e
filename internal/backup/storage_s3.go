package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const (
	s3UploadPartSize    = 8 * 1024 * 1024
	s3UploadConcurrency = 2
)

// S3StorageProvider implements StorageProvider for Amazon S3 storage
type S3StorageProvider struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3StorageProvider creates a new S3StorageProvider instance
func NewS3StorageProvider(config *S3Config) (*S3StorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	client := s3.New(sess)
	provider := &S3StorageProvider{
		client: client,
		uploader: s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
			u.PartSize = s3UploadPartSize
			u.Concurrency = s3UploadConcurrency
		}),
		bucket: config.Bucket,
		prefix: config.Prefix,
	}

	return provider, nil
}

// Put streams content to S3. The uploader switches to multipart for large
// payloads, so the object is never buffered whole.
func (s3p *S3StorageProvider) Put(ctx context.Context, relativePath string, content io.Reader, sizeHint int64) error {
	key, err := cleanObjectKey(relativePath)
	if err != nil {
		return err
	}

	_, err = s3p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(s3p.objectKey(dataKeyPrefix, key)),
		Body:        content,
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"source-path": aws.String(key),
			"source-size": aws.String(fmt.Sprintf("%d", sizeHint)),
		},
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to S3", key), err)
	}

	return nil
}

// PutMeta uploads a small document
func (s3p *S3StorageProvider) PutMeta(ctx context.Context, key string, content []byte) error {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return err
	}

	_, err = s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(s3p.objectKey(metaKeyPrefix, cleaned)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload meta document %s to S3", cleaned), err)
	}

	return nil
}

// GetMeta downloads a document written by PutMeta
func (s3p *S3StorageProvider) GetMeta(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.objectKey(metaKeyPrefix, cleaned)),
	})
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return nil, NewNotFoundError(fmt.Sprintf("meta document %s not found", cleaned), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download meta document %s from S3", cleaned), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read meta document from S3", err)
	}

	return data, nil
}

func (s3p *S3StorageProvider) objectKey(kind, key string) string {
	return path.Join(s3p.prefix, kind, key)
}

// GetBucket returns the S3 bucket name
func (s3p *S3StorageProvider) GetBucket() string {
	return s3p.bucket
}

// GetStorageInfo returns information about the storage provider
func (s3p *S3StorageProvider) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "s3",
		"bucket":   s3p.bucket,
		"prefix":   s3p.prefix,
	}
}

// HealthCheck verifies that the storage provider is accessible and functional
func (s3p *S3StorageProvider) HealthCheck(ctx context.Context) error {
	_, err := s3p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3p.bucket),
	})
	if err != nil {
		return NewStorageError("S3 storage provider health check failed: bucket not accessible", err)
	}

	_, err = s3p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s3p.bucket),
		Prefix:  aws.String(s3p.prefix),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return NewStorageError("S3 storage provider health check failed: cannot list objects", err)
	}

	return nil
}
