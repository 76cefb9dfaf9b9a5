package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureTraceIDKeepsExisting(t *testing.T) {
	ctx := SetTraceID(context.Background(), "trace-1")

	ctx, id := EnsureTraceID(ctx)
	assert.Equal(t, "trace-1", id)
	assert.Equal(t, "trace-1", GetTraceID(ctx))
}

func TestEnsureTraceIDGenerates(t *testing.T) {
	ctx, id := EnsureTraceID(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, GetTraceID(ctx))
}

func TestTaskID(t *testing.T) {
	assert.Equal(t, "", GetTaskID(context.Background()))
	assert.Equal(t, "t1", GetTaskID(SetTaskID(context.Background(), "t1")))
}
