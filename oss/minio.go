package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ncobase/msst/ecode"
)

// MinioAdapter implements the Interface for MinIO and other S3-compatible
// stores reachable through minio-go, such as Synology C2.
type MinioAdapter struct {
	client *minio.Client
	bucket string
}

// NewMinioAdapter creates a MinIO storage adapter.
// endpoint may carry a scheme; without one, useSSL decides.
func NewMinioAdapter(endpoint, accessKeyID, secretAccessKey, region, bucket string, useSSL bool) (*MinioAdapter, error) {
	host, secure, err := splitEndpoint(endpoint, useSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: secure,
		// A fixed region keeps presigning offline.
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioAdapter{
		client: client,
		bucket: bucket,
	}, nil
}

func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, errors.New("endpoint cannot be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint, useSSL, nil
	}
	return u.Host, u.Scheme == "https", nil
}

// Put uploads the reader to key.
func (a *MinioAdapter) Put(ctx context.Context, key string, reader io.Reader, opts PutOptions) (*ObjectRef, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}

	info, err := a.client.PutObject(ctx, a.bucket, key, reader, opts.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return nil, classifyMinioError("oss.minio.put", key, err)
	}

	return &ObjectRef{
		Bucket:       a.bucket,
		Key:          key,
		ETag:         normalizeETag(info.ETag),
		Size:         info.Size,
		LastModified: time.Now(),
		ContentType:  contentType,
		Metadata:     opts.Metadata,
	}, nil
}

// GetStream returns the object body. The object is stat'ed first so that a
// missing key surfaces here rather than on the first Read.
func (a *MinioAdapter) GetStream(ctx context.Context, key string) (io.ReadCloser, *ObjectRef, error) {
	object, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, classifyMinioError("oss.minio.get", key, err)
	}

	info, err := object.Stat()
	if err != nil {
		_ = object.Close()
		return nil, nil, classifyMinioError("oss.minio.get", key, err)
	}

	return object, a.toRef(info), nil
}

// Stat retrieves object metadata.
func (a *MinioAdapter) Stat(ctx context.Context, key string) (*ObjectRef, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	info, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyMinioError("oss.minio.stat", key, err)
	}
	return a.toRef(info), nil
}

// Delete removes key. RemoveObject already succeeds for missing keys.
func (a *MinioAdapter) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		err = classifyMinioError("oss.minio.delete", key, err)
		if errors.Is(err, ecode.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// List yields objects under prefix.
func (a *MinioAdapter) List(ctx context.Context, prefix string) iter.Seq2[*ObjectRef, error] {
	return func(yield func(*ObjectRef, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		// Cancelling stops the listing goroutine if the caller breaks early.
		defer cancel()

		opts := minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}
		for object := range a.client.ListObjects(ctx, a.bucket, opts) {
			if object.Err != nil {
				yield(nil, classifyMinioError("oss.minio.list", prefix, object.Err))
				return
			}
			if !yield(a.toRef(object), nil) {
				return
			}
		}
	}
}

// Presign generates a presigned GET or PUT URL.
func (a *MinioAdapter) Presign(ctx context.Context, key string, method Method, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	var (
		u   *url.URL
		err error
	)
	switch method {
	case MethodGet:
		u, err = a.client.PresignedGetObject(ctx, a.bucket, key, ttl, nil)
	case MethodPut:
		u, err = a.client.PresignedPutObject(ctx, a.bucket, key, ttl)
	default:
		return "", ecode.NewUnsupportedError("oss.minio.presign", fmt.Sprintf("method %s", method))
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return u.String(), nil
}

// GetEndpoint returns the MinIO endpoint URL.
func (a *MinioAdapter) GetEndpoint() string {
	return a.client.EndpointURL().String()
}

// Bucket returns the bucket name.
func (a *MinioAdapter) Bucket() string {
	return a.bucket
}

func (a *MinioAdapter) toRef(info minio.ObjectInfo) *ObjectRef {
	return &ObjectRef{
		Bucket:       a.bucket,
		Key:          info.Key,
		ETag:         normalizeETag(info.ETag),
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}
}

func classifyMinioError(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return ecode.NewNotFoundError(op, key, resp.StatusCode, fmt.Sprintf("%s: %s", resp.Code, resp.Message))
	case resp.StatusCode != 0:
		return ecode.NewStorageError(op, resp.StatusCode, fmt.Sprintf("%s: %s", resp.Code, resp.Message), nil)
	default:
		return ecode.NewTransportError(op, err)
	}
}

// minioDriver implements the Driver interface for MinIO.
type minioDriver struct{}

// Name returns the driver name.
func (d *minioDriver) Name() string {
	return "minio"
}

// Connect establishes a connection to MinIO.
func (d *minioDriver) Connect(_ context.Context, cfg *Config) (Interface, error) {
	return NewMinioAdapter(cfg.Endpoint, cfg.ID, cfg.Secret, cfg.Region, cfg.Bucket, true)
}

func init() {
	RegisterDriver(&minioDriver{})
}
