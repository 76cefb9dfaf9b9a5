package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ncobase/msst/oss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
app_name: msst-test
storage:
  provider: filesystem
  bucket: %s
  presign_ttl: 30m
msst:
  base_url: http://msst-server:8000
  timeout: 2m
  breaker:
    enabled: false
workflow:
  poll_interval: 2s
  concurrency: 8
  cleanup: false
  callback_url: http://caller:8080/api/callback
worker:
  max_workers: 2
  queue_size: 16
redis:
  addr: redis:6379
observes:
  tracer:
    endpoint: collector:4317
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigFromFile(t *testing.T) {
	root := t.TempDir()
	cfg, err := LoadConfig(writeConfig(t, fmt.Sprintf(sample, root)))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "msst-test", cfg.AppName)
	assert.Equal(t, "filesystem", cfg.Storage.Provider)
	assert.Equal(t, 30*time.Minute, cfg.Storage.PresignTTL)
	assert.Equal(t, int64(oss.DefaultMaxUploadSize), cfg.Storage.MaxUploadSize)
	assert.Equal(t, "http://msst-server:8000", cfg.MSST.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.MSST.Timeout)
	assert.False(t, cfg.MSST.Breaker.Enabled)
	assert.Equal(t, uint32(100), cfg.MSST.Breaker.MaxRequests)
	assert.Equal(t, 2*time.Second, cfg.Workflow.PollInterval)
	assert.Equal(t, 8, cfg.Workflow.Concurrency)
	assert.False(t, cfg.Workflow.Cleanup)
	assert.Equal(t, "memory", cfg.Workflow.Tracker)
	assert.Equal(t, 2, cfg.Worker.MaxWorkers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Redis.TrackerOptions().ClaimTTL)

	require.NotNil(t, cfg.Observes.TracerOption())
	assert.Equal(t, "collector:4317", cfg.Observes.TracerOption().URL)
	assert.Nil(t, cfg.Observes.SentryOptions(cfg.AppName))

	store, gw, err := cfg.NewStorage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, root, store.Bucket())
	assert.Equal(t, int64(oss.DefaultMaxUploadSize), gw.MaxUploadSize())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MSST_MSST_BASE_URL", "http://env-host:9000")
	t.Setenv("MSST_STORAGE_SECRET", "from-env")
	t.Setenv("MSST_WORKFLOW_POLL_INTERVAL", "750ms")

	cfg, err := LoadConfig(writeConfig(t, fmt.Sprintf(sample, t.TempDir())))
	require.NoError(t, err)
	assert.Equal(t, "http://env-host:9000", cfg.MSST.BaseURL)
	assert.Equal(t, "from-env", cfg.Storage.Secret)
	assert.Equal(t, 750*time.Millisecond, cfg.Workflow.PollInterval)
}

func TestDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "eos", cfg.Storage.Provider)
	assert.Equal(t, "http://localhost:8000", cfg.MSST.BaseURL)
	assert.True(t, cfg.MSST.Breaker.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Workflow.PollInterval)
	assert.True(t, cfg.Workflow.Cleanup)
	assert.Empty(t, cfg.File())
	assert.Nil(t, cfg.Observes.TracerOption())
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
msst:
  base_url: not a url
workflow:
  tracker: etcd
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestWatchReloads(t *testing.T) {
	p := writeConfig(t, "workflow:\n  poll_interval: 1s\n")
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	got := make(chan time.Duration, 4)
	cfg.Watch(func(c *Config) { got <- c.Workflow.PollInterval })
	require.NoError(t, os.WriteFile(p, []byte("workflow:\n  poll_interval: 3s\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-got:
			if d == 3*time.Second {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
