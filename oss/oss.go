// Package oss provides the object storage layer used to move source media and
// separation results through an S3-compatible store such as ECloud EOS or MinIO.
//
// Providers implement Interface, a capability keyed on put, get, stat,
// presign, delete and list. Gateway wraps a provider with the client-side
// policy the job workflow relies on: upload size limits, download-to-file,
// presigned URL expiry bookkeeping and idempotent deletes.
//
// Drivers are auto-registered via init() functions and selected by
// Config.Provider at runtime.
package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"
)

// Method is the HTTP method a presigned URL grants.
type Method string

const (
	MethodGet Method = http.MethodGet
	MethodPut Method = http.MethodPut
)

// Interface defines unified object storage operations.
//
// Implementations report a missing key as ecode.ErrNotFound, a rejected
// call as ecode.ErrStorage carrying the provider text, and a network
// failure as ecode.ErrTransport.
type Interface interface {
	// Put uploads r to key. opts.Size is the content length, or -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*ObjectRef, error)

	// GetStream returns the object body and its metadata.
	// Caller is responsible for closing the reader when done.
	GetStream(ctx context.Context, key string) (io.ReadCloser, *ObjectRef, error)

	// Stat retrieves object metadata without downloading content.
	Stat(ctx context.Context, key string) (*ObjectRef, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List yields objects under prefix lazily, in a single pass.
	List(ctx context.Context, prefix string) iter.Seq2[*ObjectRef, error]

	// Presign signs a URL granting method on key for ttl. It never touches
	// the network.
	Presign(ctx context.Context, key string, method Method, ttl time.Duration) (string, error)

	// GetEndpoint returns the storage service endpoint URL.
	GetEndpoint() string

	// Bucket returns the bucket the provider is scoped to.
	Bucket() string
}

// PutOptions holds per-upload settings.
type PutOptions struct {
	ContentType string
	Size        int64 // content length, -1 when unknown
	Metadata    map[string]string
}

// ObjectRef describes a stored artifact.
type ObjectRef struct {
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	ETag         string            `json:"etag"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Config holds configuration for object storage providers.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // Storage provider: s3, eos, minio, synology, filesystem
	ID       string `json:"id" yaml:"id"`             // Access key ID
	Secret   string `json:"secret" yaml:"secret"`     // Secret access key
	Region   string `json:"region" yaml:"region"`     // Region
	Bucket   string `json:"bucket" yaml:"bucket"`     // Bucket name / Local path
	Endpoint string `json:"endpoint" yaml:"endpoint"` // Custom endpoint (required for EOS, MinIO)
}

// Default EOS settings, matching the ECloud Wuxi region.
const (
	DefaultEOSEndpoint = "https://eos-wuxi-1.cmecloud.cn"
	DefaultEOSRegion   = "wuxi1"
)

// Validate checks if the configuration is valid and sets default values where applicable.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return errors.New("storage provider is required")
	}

	switch c.Provider {
	case "filesystem", "local":
		if c.Bucket == "" {
			c.Bucket = "./uploads"
		}
	case "s3", "aws-s3", "aws":
		if c.ID == "" || c.Secret == "" || c.Bucket == "" {
			return errors.New("id, secret, and bucket are required for AWS S3")
		}
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	case "eos", "ecloud":
		if c.ID == "" || c.Secret == "" || c.Bucket == "" {
			return errors.New("id, secret, and bucket are required for ECloud EOS")
		}
		if c.Endpoint == "" {
			c.Endpoint = DefaultEOSEndpoint
		}
		if c.Region == "" {
			c.Region = DefaultEOSRegion
		}
	case "minio", "synology":
		if c.ID == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
			return errors.New("id, secret, bucket, and endpoint are required for MinIO")
		}
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}

	return nil
}

// driverName maps provider aliases onto registered drivers.
func (c *Config) driverName() string {
	switch c.Provider {
	case "s3", "aws-s3", "aws", "eos", "ecloud":
		return "s3"
	case "minio", "synology":
		return "minio"
	case "filesystem", "local":
		return "filesystem"
	default:
		return c.Provider
	}
}

// Driver defines the storage driver interface.
// Implement this interface to add support for new storage providers.
type Driver interface {
	// Name returns the driver name.
	Name() string

	// Connect establishes a connection to the storage service.
	Connect(ctx context.Context, cfg *Config) (Interface, error)
}

var driverRegistry = make(map[string]Driver)

// RegisterDriver registers a storage driver.
// Typically called in the driver package's init function.
func RegisterDriver(driver Driver) {
	name := driver.Name()
	if _, exists := driverRegistry[name]; exists {
		panic(fmt.Sprintf("oss driver %s already registered", name))
	}
	driverRegistry[name] = driver
}

// GetDriver retrieves a driver by name.
// Returns an error if the driver is not registered.
func GetDriver(name string) (Driver, error) {
	driver, ok := driverRegistry[name]
	if !ok {
		return nil, fmt.Errorf("oss driver %s not found", name)
	}
	return driver, nil
}

// NewStorage creates a storage instance based on the provided configuration.
// Automatically selects the appropriate storage provider.
func NewStorage(ctx context.Context, c *Config) (Interface, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	driver, err := GetDriver(c.driverName())
	if err != nil {
		return nil, err
	}

	storage, err := driver.Connect(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to connect with %s driver: %w", c.Provider, err)
	}

	return storage, nil
}
