package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/ncobase/msst/ecode"
)

// S3Adapter implements the Interface for AWS S3 storage.
// Supports both AWS S3 and S3-compatible services (EOS) with custom endpoints.
type S3Adapter struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	region   string
	endpoint string
}

// NewS3Adapter creates a new S3 storage adapter.
// For S3-compatible services, set the endpoint parameter; path-style
// addressing is used so bucket names need no DNS entry.
func NewS3Adapter(ctx context.Context, accessKeyID, secretAccessKey, region, bucket, endpoint string) (*S3Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		// Callers layer retries themselves.
		o.Retryer = aws.NopRetryer{}
		// S3-compatible stores reject the flexible checksum trailers.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Adapter{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
	}, nil
}

// Put uploads a file to S3 from the given reader.
func (a *S3Adapter) Put(ctx context.Context, key string, reader io.Reader, opts PutOptions) (*ObjectRef, error) {
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

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
		Metadata:    opts.Metadata,
	}
	if opts.Size >= 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}

	out, err := a.client.PutObject(ctx, input)
	if err != nil {
		return nil, classifyS3Error("oss.s3.put", key, err)
	}

	return &ObjectRef{
		Bucket:       a.bucket,
		Key:          key,
		ETag:         normalizeETag(aws.ToString(out.ETag)),
		Size:         opts.Size,
		LastModified: time.Now(),
		ContentType:  contentType,
		Metadata:     opts.Metadata,
	}, nil
}

// GetStream returns a readable stream for the S3 object.
func (a *S3Adapter) GetStream(ctx context.Context, key string) (io.ReadCloser, *ObjectRef, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, classifyS3Error("oss.s3.get", key, err)
	}

	return resp.Body, &ObjectRef{
		Bucket:       a.bucket,
		Key:          key,
		ETag:         normalizeETag(aws.ToString(resp.ETag)),
		Size:         aws.ToInt64(resp.ContentLength),
		LastModified: aws.ToTime(resp.LastModified),
		ContentType:  aws.ToString(resp.ContentType),
		Metadata:     resp.Metadata,
	}, nil
}

// Stat retrieves object metadata without downloading content.
func (a *S3Adapter) Stat(ctx context.Context, key string) (*ObjectRef, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error("oss.s3.stat", key, err)
	}

	return &ObjectRef{
		Bucket:       a.bucket,
		Key:          key,
		ETag:         normalizeETag(aws.ToString(resp.ETag)),
		Size:         aws.ToInt64(resp.ContentLength),
		LastModified: aws.ToTime(resp.LastModified),
		ContentType:  aws.ToString(resp.ContentType),
		Metadata:     resp.Metadata,
	}, nil
}

// Delete removes an object from the S3 bucket.
func (a *S3Adapter) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classifyS3Error("oss.s3.delete", key, err)
		if errors.Is(err, ecode.ErrNotFound) {
			return nil
		}
		return err
	}

	return nil
}

// List yields all objects under the specified prefix, one page at a time.
func (a *S3Adapter) List(ctx context.Context, prefix string) iter.Seq2[*ObjectRef, error] {
	return func(yield func(*ObjectRef, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(a.bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, classifyS3Error("oss.s3.list", prefix, err))
				return
			}

			for _, obj := range page.Contents {
				ref := &ObjectRef{
					Bucket:       a.bucket,
					Key:          aws.ToString(obj.Key),
					ETag:         normalizeETag(aws.ToString(obj.ETag)),
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
				}
				if !yield(ref, nil) {
					return
				}
			}
		}
	}
}

// Presign generates a presigned GET or PUT URL valid for ttl.
func (a *S3Adapter) Presign(ctx context.Context, key string, method Method, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	var (
		req *v4.PresignedHTTPRequest
		err error
	)
	switch method {
	case MethodGet:
		req, err = a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
	case MethodPut:
		req, err = a.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(ContentTypeFor(key)),
		}, s3.WithPresignExpires(ttl))
	default:
		return "", ecode.NewUnsupportedError("oss.s3.presign", fmt.Sprintf("method %s", method))
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return req.URL, nil
}

// GetEndpoint returns the S3 endpoint URL.
func (a *S3Adapter) GetEndpoint() string {
	if a.endpoint != "" {
		return a.endpoint
	}
	return fmt.Sprintf("https://s3.%s.amazonaws.com", a.region)
}

// Bucket returns the bucket name.
func (a *S3Adapter) Bucket() string {
	return a.bucket
}

// classifyS3Error maps SDK errors onto the ecode taxonomy, keeping the
// provider's code and message verbatim.
func classifyS3Error(op, key string, err error) error {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
	)
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ecode.NewNotFoundError(op, key, 404, providerText(err))
	}

	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NoSuchKey" || status == 404 {
			return ecode.NewNotFoundError(op, key, status, providerText(err))
		}
		return ecode.NewStorageError(op, status, providerText(err), nil)
	}
	if status != 0 {
		return ecode.NewStorageError(op, status, err.Error(), nil)
	}
	return ecode.NewTransportError(op, err)
}

func providerText(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}

func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// s3Driver implements the Driver interface for AWS S3 and EOS.
type s3Driver struct{}

// Name returns the driver name.
func (d *s3Driver) Name() string {
	return "s3"
}

// Connect establishes a connection to AWS S3.
func (d *s3Driver) Connect(ctx context.Context, cfg *Config) (Interface, error) {
	return NewS3Adapter(ctx, cfg.ID, cfg.Secret, cfg.Region, cfg.Bucket, cfg.Endpoint)
}

func init() {
	RegisterDriver(&s3Driver{})
}
