package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/ncobase/msst/ctxutil"
	"github.com/ncobase/msst/logging/logger/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	l := NewLogger()
	cleanup, err := l.Init(&config.Config{Level: int(logrus.DebugLevel), Format: "json"})
	require.NoError(t, err)
	t.Cleanup(cleanup)

	buf := &bytes.Buffer{}
	l.SetOutput(buf)
	return l, buf
}

func TestLoggerAddsContextFields(t *testing.T) {
	l, buf := newTestLogger(t)
	l.SetVersion("1.2.3")

	ctx := ctxutil.SetTaskID(ctxutil.SetTraceID(context.Background(), "trace-9"), "t1")
	l.Infof(ctx, "polling %s", "t1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-9", entry["trace_id"])
	assert.Equal(t, "t1", entry["task_id"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "polling t1", entry["msg"])
}

func TestLoggerMasksPresignedSignature(t *testing.T) {
	l, buf := newTestLogger(t)

	url := "https://eos.example.com/bucket/a.wav?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Credential=AKIA%2F20260101&X-Amz-Signature=deadbeef"
	l.entryFromContext(context.Background()).WithField("url", url).Info("presigned")

	out := buf.String()
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, "AKIA")
	assert.Contains(t, out, "X-Amz-Signature=******")
	assert.Contains(t, out, "X-Amz-Algorithm=AWS4-HMAC-SHA256")
}

func TestDesensitizerMasksSensitiveFields(t *testing.T) {
	d := NewDesensitizer(config.DefaultDesensitization())

	fields := d.DesensitizeFields(logrus.Fields{
		"secret_key": "s3cr3t",
		"bucket":     "audio",
		"headers":    map[string]string{"X-Api-Token": "abc", "Accept": "*/*"},
	})

	assert.Equal(t, "******", fields["secret_key"])
	assert.Equal(t, "audio", fields["bucket"])
	assert.Equal(t, map[string]string{"X-Api-Token": "******", "Accept": "*/*"}, fields["headers"])
}

func TestDesensitizerDisabled(t *testing.T) {
	cfg := config.DefaultDesensitization()
	cfg.Enabled = false
	d := NewDesensitizer(cfg)

	assert.Equal(t, "?X-Amz-Signature=abc", d.DesensitizeString("?X-Amz-Signature=abc"))
}
