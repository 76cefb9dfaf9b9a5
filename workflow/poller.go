package workflow

import (
	"context"
	"time"

	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/ncobase/msst/msst"
	"go.opentelemetry.io/otel/attribute"
)

// StatusSource reports task status snapshots.
type StatusSource interface {
	Status(ctx context.Context, taskID string) (*msst.TaskStatus, error)
}

// Poller waits for a task to reach a terminal state by querying its status
// at a fixed interval.
type Poller struct {
	src      StatusSource
	interval time.Duration
}

// NewPoller creates a poller. interval <= 0 uses DefaultPollInterval.
func NewPoller(src StatusSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{src: src, interval: interval}
}

// Interval returns the delay between queries.
func (p *Poller) Interval() time.Duration { return p.interval }

// Wait blocks until taskID completes, fails, or ctx ends. A failed task
// yields a TerminalFailure carrying the server message verbatim; status
// query errors are returned as is.
func (p *Poller) Wait(ctx context.Context, taskID string) (st *msst.TaskStatus, err error) {
	ctx, span := observes.StartSpan(ctx, "workflow.poll", attribute.String("task_id", taskID))
	defer func() { observes.EndSpan(span, err) }()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for polls := 1; ; polls++ {
		st, err = p.src.Status(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch st.State {
		case msst.StateCompleted:
			logger.Infof(ctx, "task %s completed after %d polls", taskID, polls)
			return st, nil
		case msst.StateFailed:
			return st, ecode.NewTerminalFailure(taskID, st.Message)
		}
		logger.Debugf(ctx, "task %s still %s", taskID, st.State)

		if timer == nil {
			timer = time.NewTimer(p.interval)
		} else {
			timer.Reset(p.interval)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
