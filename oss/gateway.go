package oss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
)

// Gateway defaults.
const (
	DefaultMaxUploadSize int64 = 5 << 30 // 5 GiB
	DefaultPresignTTL          = time.Hour
	// MaxPresignTTL is the longest expiry SigV4 accepts.
	MaxPresignTTL = 7 * 24 * time.Hour

	// UploadTimeMetaKey is stamped into user metadata on every upload.
	UploadTimeMetaKey = "upload-time"
)

// GatewayConfig holds client-side storage policy.
type GatewayConfig struct {
	MaxUploadSize int64         // bytes, 0 means DefaultMaxUploadSize
	PresignTTL    time.Duration // default presign expiry, 0 means DefaultPresignTTL
	HTTPClient    *http.Client  // used by UploadFromURL
}

// Gateway applies upload limits, download-to-file and presign bookkeeping on
// top of a provider.
type Gateway struct {
	store  Interface
	cfg    GatewayConfig
	client *http.Client
	now    func() time.Time
}

// NewGateway wraps store with cfg.
func NewGateway(store Interface, cfg GatewayConfig) *Gateway {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Gateway{store: store, cfg: cfg, client: client, now: time.Now}
}

// Store returns the wrapped provider.
func (g *Gateway) Store() Interface { return g.store }

// MaxUploadSize returns the effective upload limit.
func (g *Gateway) MaxUploadSize() int64 { return g.cfg.MaxUploadSize }

// Upload streams r to key. size is the content length, or -1 when unknown.
// Known sizes over the limit fail before any network call; unknown sizes
// fail once the stream crosses the limit.
func (g *Gateway) Upload(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*ObjectRef, error) {
	if size > g.cfg.MaxUploadSize {
		return nil, ecode.NewSizeLimitError("oss.upload", size, g.cfg.MaxUploadSize)
	}

	body := r
	var capped *limitedReader
	if size < 0 {
		capped = &limitedReader{r: r, remaining: g.cfg.MaxUploadSize, limit: g.cfg.MaxUploadSize}
		body = capped
	}

	opts.Size = size
	opts.Metadata = withUploadTime(opts.Metadata, g.now())

	ref, err := g.store.Put(ctx, key, body, opts)
	if capped != nil && capped.exceeded {
		return nil, ecode.NewSizeLimitError("oss.upload", capped.limit+1, capped.limit)
	}
	if err != nil {
		return nil, err
	}

	logger.Debugf(ctx, "uploaded %s (%d bytes, etag %s)", key, ref.Size, ref.ETag)
	return ref, nil
}

// UploadFile uploads a local file. An empty key generates one under
// "uploads/" keeping the file extension.
func (g *Gateway) UploadFile(ctx context.Context, localPath, key string, opts PutOptions) (*ObjectRef, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if key == "" {
		if key, err = GenerateKey("uploads", filepath.Base(localPath)); err != nil {
			return nil, err
		}
	}

	return g.Upload(ctx, key, f, info.Size(), opts)
}

// UploadBytes uploads an in-memory payload.
func (g *Gateway) UploadBytes(ctx context.Context, key string, data []byte, opts PutOptions) (*ObjectRef, error) {
	return g.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
}

// UploadFromURL fetches rawURL and stores the body under key.
func (g *Gateway) UploadFromURL(ctx context.Context, rawURL, key string) (*ObjectRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, ecode.NewTransportError("oss.upload_from_url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, ecode.NewStorageError("oss.upload_from_url", resp.StatusCode, string(body), nil)
	}

	if key == "" {
		if key, err = GenerateKey("uploads", path.Base(req.URL.Path)); err != nil {
			return nil, err
		}
	}

	var opts PutOptions
	if path.Ext(key) == "" {
		opts.ContentType = resp.Header.Get("Content-Type")
	}
	return g.Upload(ctx, key, resp.Body, resp.ContentLength, opts)
}

// Download writes the object at key to dest. The content lands in a
// temporary file next to dest and is renamed into place once complete.
func (g *Gateway) Download(ctx context.Context, key, dest string) (*ObjectRef, error) {
	body, ref, err := g.store.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	n, err := WriteFileAtomic(dest, body)
	if err != nil {
		return nil, ecode.NewTransportError("oss.download", err)
	}
	ref.Size = n

	logger.Debugf(ctx, "downloaded %s to %s (%d bytes)", key, dest, n)
	return ref, nil
}

// Open returns the object body. Caller closes it.
func (g *Gateway) Open(ctx context.Context, key string) (io.ReadCloser, *ObjectRef, error) {
	return g.store.GetStream(ctx, key)
}

// Stat returns object metadata.
func (g *Gateway) Stat(ctx context.Context, key string) (*ObjectRef, error) {
	return g.store.Stat(ctx, key)
}

// Delete removes key. A missing key is not an error.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if err := g.store.Delete(ctx, key); err != nil && !errors.Is(err, ecode.ErrNotFound) {
		return err
	}
	return nil
}

// List yields objects under prefix.
func (g *Gateway) List(ctx context.Context, prefix string) iter.Seq2[*ObjectRef, error] {
	return g.store.List(ctx, prefix)
}

// Presign signs a fresh URL for key. ttl <= 0 uses the configured default.
// URLs are never cached: every call signs anew.
func (g *Gateway) Presign(ctx context.Context, key string, method Method, ttl time.Duration) (*PresignedURL, error) {
	if ttl <= 0 {
		ttl = g.cfg.PresignTTL
	}
	if ttl > MaxPresignTTL {
		return nil, fmt.Errorf("presign ttl %s exceeds maximum %s", ttl, MaxPresignTTL)
	}

	issued := g.now()
	u, err := g.store.Presign(ctx, key, method, ttl)
	if err != nil {
		return nil, err
	}

	return &PresignedURL{
		URL:       u,
		Method:    method,
		Key:       key,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}, nil
}

// PresignedURL is a signed capability URL with its validity window.
type PresignedURL struct {
	URL       string    `json:"url"`
	Method    Method    `json:"method"`
	Key       string    `json:"key"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable reports whether now lies in [IssuedAt, ExpiresAt).
func (p *PresignedURL) Usable(now time.Time) bool {
	return !now.Before(p.IssuedAt) && now.Before(p.ExpiresAt)
}

// TTL returns the validity duration.
func (p *PresignedURL) TTL() time.Duration {
	return p.ExpiresAt.Sub(p.IssuedAt)
}

// GenerateKey builds a unique object key "<prefix>/<nanoid><ext>".
func GenerateKey(prefix, filename string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return path.Join(prefix, id+path.Ext(filename)), nil
}

func withUploadTime(meta map[string]string, now time.Time) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if _, ok := out[UploadTimeMetaKey]; !ok {
		out[UploadTimeMetaKey] = now.UTC().Format(time.RFC3339)
	}
	return out
}

// WriteFileAtomic copies r into dest via a temp file in the same directory,
// so dest never holds a partial download.
func WriteFileAtomic(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, err
	}
	return n, nil
}

// limitedReader fails the stream once more than limit bytes are read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	limit     int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded = true
		return 0, ecode.NewSizeLimitError("oss.upload", l.limit+1, l.limit)
	}
	// Read one byte past the limit to detect overflow.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ecode.NewSizeLimitError("oss.upload", l.limit+1, l.limit)
	}
	return n, err
}
