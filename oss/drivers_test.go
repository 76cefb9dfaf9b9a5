package oss

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/ncobase/msst/ecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves a minimal path-style S3 API for one bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/audio/")
	switch {
	case key == "forbidden.wav":
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"5d41402abc4b2a76b9719d911017c592"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		w.Header().Set("ETag", `"5d41402abc4b2a76b9719d911017c592"`)
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Adapter(t *testing.T) *S3Adapter {
	t.Helper()
	srv := httptest.NewServer(&fakeS3{objects: map[string][]byte{}})
	t.Cleanup(srv.Close)

	a, err := NewS3Adapter(context.Background(), "AKIDEXAMPLE", "secret", "us-east-1", "audio", srv.URL)
	require.NoError(t, err)
	return a
}

func TestS3AdapterPutAndGet(t *testing.T) {
	ctx := context.Background()
	a := newFakeS3Adapter(t)

	ref, err := a.Put(ctx, "input/hello.wav", bytes.NewReader([]byte("hello")), PutOptions{Size: 5})
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", ref.ETag)
	assert.Equal(t, "audio/wav", ref.ContentType)

	body, got, err := a.GetStream(ctx, "input/hello.wav")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, ref.ETag, got.ETag)
}

func TestS3AdapterClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	a := newFakeS3Adapter(t)

	_, _, err := a.GetStream(ctx, "missing.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, ecode.ErrNotFound)

	_, err = a.Stat(ctx, "missing.wav")
	assert.ErrorIs(t, err, ecode.ErrNotFound)

	_, _, err = a.GetStream(ctx, "forbidden.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, ecode.ErrStorage)
	assert.Contains(t, err.Error(), "AccessDenied")

	var e *ecode.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusForbidden, e.Status)
}

func TestS3AdapterDeleteMissingKey(t *testing.T) {
	a := newFakeS3Adapter(t)
	assert.NoError(t, a.Delete(context.Background(), "never-existed.wav"))
}

func TestS3AdapterPresignIsOffline(t *testing.T) {
	a, err := NewS3Adapter(context.Background(), "AKIDEXAMPLE", "secret", DefaultEOSRegion, "audio", "http://127.0.0.1:1")
	require.NoError(t, err)

	u, err := a.Presign(context.Background(), "separated/t1/vocals.wav", MethodPut, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "/audio/separated/t1/vocals.wav")
	assert.Contains(t, u, "X-Amz-Expires=3600")
	assert.Contains(t, u, "X-Amz-Signature=")

	u, err = a.Presign(context.Background(), "input/song.wav", MethodGet, 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Expires=900")
}

func TestGatewayPresignTTL(t *testing.T) {
	a, err := NewS3Adapter(context.Background(), "AKIDEXAMPLE", "secret", DefaultEOSRegion, "audio", "http://127.0.0.1:1")
	require.NoError(t, err)
	g := NewGateway(a, GatewayConfig{PresignTTL: 30 * time.Minute})
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return issued }

	p, err := g.Presign(context.Background(), "a.wav", MethodGet, 0)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(30*time.Minute), p.ExpiresAt)
	assert.Contains(t, p.URL, "X-Amz-Expires=1800")
	assert.True(t, p.Usable(issued))
	assert.False(t, p.Usable(issued.Add(31*time.Minute)))

	_, err = g.Presign(context.Background(), "a.wav", MethodGet, 8*24*time.Hour)
	assert.Error(t, err)
}

func TestMinioAdapterPresignIsOffline(t *testing.T) {
	a, err := NewMinioAdapter("https://minio.example.com", "minio", "minio123", "us-east-1", "audio", true)
	require.NoError(t, err)

	u, err := a.Presign(context.Background(), "input/song.wav", MethodGet, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://minio.example.com/audio/input/song.wav?"))
	assert.Contains(t, u, "X-Amz-Expires=600")
	assert.Equal(t, "https://minio.example.com", a.GetEndpoint())
}

func TestClassifyMinioError(t *testing.T) {
	err := classifyMinioError("oss.minio.get", "a.wav", minio.ErrorResponse{Code: "NoSuchKey", Message: "missing", StatusCode: 404})
	assert.ErrorIs(t, err, ecode.ErrNotFound)

	err = classifyMinioError("oss.minio.put", "a.wav", minio.ErrorResponse{Code: "AccessDenied", Message: "denied", StatusCode: 403})
	assert.ErrorIs(t, err, ecode.ErrStorage)
	assert.Contains(t, err.Error(), "AccessDenied: denied")

	err = classifyMinioError("oss.minio.put", "a.wav", errors.New("dial tcp: refused"))
	assert.ErrorIs(t, err, ecode.ErrTransport)
}

func TestNewStorageSelectsDriver(t *testing.T) {
	s, err := NewStorage(context.Background(), &Config{Provider: "local", Bucket: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileSystem{}, s)

	_, err = NewStorage(context.Background(), &Config{Provider: "eos"})
	assert.Error(t, err)

	c := &Config{Provider: "eos", ID: "id", Secret: "secret", Bucket: "audio"}
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultEOSEndpoint, c.Endpoint)
	assert.Equal(t, DefaultEOSRegion, c.Region)
}
