package filestore

import (
	"fmt"
	"strings"

	"github.com/koustreak/bucketdesk/internal/errs"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO  Provider = "minio"
	ProviderS3     Provider = "s3"
	ProviderMemory Provider = "memory"
)

// Config holds all settings needed to connect to a file storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider `yaml:"provider"`

	// Endpoint is the host:port of the storage server for MinIO, or an
	// optional base URL for S3-compatible services.
	// Example: "localhost:9000" for local MinIO.
	// For the memory provider it is the public URL its signed links point at.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends (e.g. AWS S3).
	Region string `yaml:"region"`

	// Bucket is the single bucket every operation targets.
	Bucket string `yaml:"bucket"`

	// ForcePathStyle addresses buckets as endpoint/bucket instead of
	// bucket.endpoint. Most S3-compatible services other than AWS need it.
	ForcePathStyle bool `yaml:"force_path_style"`
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    false,
		Region:    "us-east-1",
	}
}

// Validate reports configuration errors before any connection is attempted.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMinIO:
		if c.Endpoint == "" {
			return errs.New(errs.ErrKindInvalidInput, "minio endpoint is required")
		}
	case ProviderS3, ProviderMemory:
	default:
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown storage provider %q", c.Provider))
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket name is required")
	}
	return nil
}
