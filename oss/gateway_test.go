package oss

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ncobase/msst/ecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, cfg GatewayConfig) (*Gateway, *FileSystem) {
	t.Helper()
	store, err := NewFileSystem(t.TempDir())
	require.NoError(t, err)
	return NewGateway(store, cfg), store
}

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t, GatewayConfig{})
	content := []byte("RIFF....WAVEfmt fake audio")

	ref, err := g.UploadBytes(ctx, "input/song.wav", content, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "input/song.wav", ref.Key)
	assert.Equal(t, int64(len(content)), ref.Size)
	assert.Equal(t, "audio/wav", ref.ContentType)
	assert.Contains(t, ref.Metadata, UploadTimeMetaKey)

	dest := filepath.Join(t.TempDir(), "out", "song.wav")
	first, err := g.Download(ctx, "input/song.wav", dest)
	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	second, err := g.Download(ctx, "input/song.wav", dest)
	require.NoError(t, err)
	assert.Equal(t, ref.ETag, first.ETag)
	assert.Equal(t, first.ETag, second.ETag)
}

func TestGatewayUploadRejectsKnownOversize(t *testing.T) {
	g, store := newTestGateway(t, GatewayConfig{MaxUploadSize: 8})

	_, err := g.UploadBytes(context.Background(), "big.wav", make([]byte, 9), PutOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ecode.ErrSizeLimit)

	_, err = store.Stat(context.Background(), "big.wav")
	assert.ErrorIs(t, err, ecode.ErrNotFound)
}

func TestGatewayUploadRejectsUnknownOversize(t *testing.T) {
	g, store := newTestGateway(t, GatewayConfig{MaxUploadSize: 8})

	r := io.MultiReader(strings.NewReader("12345"), strings.NewReader("67890"))
	_, err := g.Upload(context.Background(), "stream.wav", r, -1, PutOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ecode.ErrSizeLimit)

	_, err = store.Stat(context.Background(), "stream.wav")
	assert.ErrorIs(t, err, ecode.ErrNotFound)
}

func TestGatewayUploadUnknownSizeAtLimit(t *testing.T) {
	g, _ := newTestGateway(t, GatewayConfig{MaxUploadSize: 8})

	ref, err := g.Upload(context.Background(), "exact.wav", strings.NewReader("12345678"), -1, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(8), ref.Size)
}

func TestGatewayDownloadMissingKey(t *testing.T) {
	g, _ := newTestGateway(t, GatewayConfig{})
	dest := filepath.Join(t.TempDir(), "missing.wav")

	_, err := g.Download(context.Background(), "nope.wav", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ecode.ErrNotFound)
	assert.NoFileExists(t, dest)
}

func TestGatewayDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t, GatewayConfig{})

	_, err := g.UploadBytes(ctx, "tmp/a.wav", []byte("a"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, g.Delete(ctx, "tmp/a.wav"))
	require.NoError(t, g.Delete(ctx, "tmp/a.wav"))
}

func TestGatewayListIsLazy(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t, GatewayConfig{})
	for _, k := range []string{"separated/t1/a.wav", "separated/t1/b.wav", "separated/t1/c.wav", "input/x.wav"} {
		_, err := g.UploadBytes(ctx, k, []byte(k), PutOptions{})
		require.NoError(t, err)
	}

	var keys []string
	for ref, err := range g.List(ctx, "separated/t1/") {
		require.NoError(t, err)
		keys = append(keys, ref.Key)
	}
	assert.Equal(t, []string{"separated/t1/a.wav", "separated/t1/b.wav", "separated/t1/c.wav"}, keys)

	seen := 0
	for range g.List(ctx, "separated/") {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestGatewayUploadFile(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t, GatewayConfig{})

	src := filepath.Join(t.TempDir(), "voice.mp3")
	require.NoError(t, os.WriteFile(src, []byte("ID3 fake"), 0o644))

	ref, err := g.UploadFile(ctx, src, "", PutOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.Key, "uploads/"))
	assert.True(t, strings.HasSuffix(ref.Key, ".mp3"))
	assert.Equal(t, "audio/mpeg", ref.ContentType)
}

func TestGatewayUploadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.wav" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("remote audio"))
	}))
	defer srv.Close()

	ctx := context.Background()
	g, _ := newTestGateway(t, GatewayConfig{HTTPClient: srv.Client()})

	ref, err := g.UploadFromURL(ctx, srv.URL+"/remote.wav", "input/remote.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(len("remote audio")), ref.Size)

	_, err = g.UploadFromURL(ctx, srv.URL+"/missing.wav", "input/missing.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, ecode.ErrStorage)
	assert.Contains(t, err.Error(), "gone")
}

func TestGatewayPresignOnFilesystemUnsupported(t *testing.T) {
	g, _ := newTestGateway(t, GatewayConfig{})

	_, err := g.Presign(context.Background(), "a.wav", MethodGet, 0)
	assert.ErrorIs(t, err, ecode.ErrUnsupported)
}

func TestFileSystemRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileSystem(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../outside.wav", bytes.NewReader([]byte("x")), PutOptions{Size: 1})
	assert.Error(t, err)
}

func TestPresignedURLUsable(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &PresignedURL{IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}

	assert.True(t, p.Usable(issued))
	assert.True(t, p.Usable(issued.Add(59*time.Minute)))
	assert.False(t, p.Usable(issued.Add(time.Hour)))
	assert.False(t, p.Usable(issued.Add(-time.Second)))
	assert.Equal(t, time.Hour, p.TTL())
}
