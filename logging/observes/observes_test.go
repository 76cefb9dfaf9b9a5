package observes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	otelcodes "go.opentelemetry.io/otel/codes"
)

func TestNewSentryWithoutDsnIsNoop(t *testing.T) {
	assert.NoError(t, NewSentry(nil))
	assert.NoError(t, NewSentry(&SentryOptions{Name: "msst"}))
	CaptureError(context.Background(), errors.New("ignored"), nil)
}

func TestSpanRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "msst.poll")
	EndSpan(span, errors.New("bad preset"))

	ended := rec.Ended()
	if assert.Len(t, ended, 1) {
		assert.Equal(t, "msst.poll", ended[0].Name())
		assert.Equal(t, otelcodes.Error, ended[0].Status().Code)
		assert.Equal(t, "bad preset", ended[0].Status().Description)
	}
}
