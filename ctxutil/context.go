package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	taskIDKey ctxKey = "task_id"
	// TraceIDKey is the log field and gin key carrying the trace id
	TraceIDKey = "trace_id"
)

// GetTraceID gets trace id from context.Context.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(ctxKey(TraceIDKey)).(string)
	return traceID
}

// SetTraceID sets trace id to context.Context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if traceID := GetTraceID(ctx); traceID != "" {
		return ctx, traceID
	}
	traceID := uuid.NewString()
	return SetTraceID(ctx, traceID), traceID
}

// SetTaskID binds the task id being coordinated.
func SetTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// GetTaskID returns the bound task id, or "".
func GetTaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey).(string)
	return id
}
