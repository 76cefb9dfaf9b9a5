// Package ctxutil carries request-scoped values used across the client:
// the trace id stamped on every log line and the task id of the job being
// coordinated.
//
//	ctx, traceID := ctxutil.EnsureTraceID(ctx)
//	ctx = ctxutil.SetTaskID(ctx, job.TaskID)

package ctxutil
