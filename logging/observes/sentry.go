package observes

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ncobase/msst/ctxutil"
)

type SentryOptions struct {
	Dsn         string
	Name        string
	Release     string
	Environment string
}

// NewSentry is the register sentry
func NewSentry(opt *SentryOptions) error {
	// if not exist sentry config, skip initialization
	if opt == nil || opt.Dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              opt.Dsn,
		AttachStacktrace: true,
		ServerName:       opt.Name,
		Release:          opt.Release,
		Environment:      opt.Environment,
	})
}

// CaptureError reports err with the task and trace ids found in ctx.
// A no-op until NewSentry installs a client.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		if id := ctxutil.GetTaskID(ctx); id != "" {
			scope.SetTag("task_id", id)
		}
		if id := ctxutil.GetTraceID(ctx); id != "" {
			scope.SetTag("trace_id", id)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})
	hub.CaptureException(err)
}

// FlushSentry waits for buffered events before exit
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
