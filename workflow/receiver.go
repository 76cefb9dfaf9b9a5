package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ncobase/msst/ctxutil"
	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/ncobase/msst/msst"
)

// ErrUnknownTask is returned for callbacks about tasks nobody expects.
var ErrUnknownTask = errors.New("callback for unknown task")

// Outcome is the handled result of a terminal callback.
type Outcome struct {
	TaskID string
	State  msst.State
	Report *Report // nil for failed tasks
	Err    error
}

// ReceiverConfig configures callback handling.
type ReceiverConfig struct {
	// Dir is the root for results; each task lands in Dir/<task id>.
	Dir string
	// Cleanup drops server side task state after a full materialization.
	Cleanup bool
	// OnOutcome, when set, is called once per handled terminal delivery.
	OnOutcome func(ctx context.Context, o Outcome)
}

// Receiver handles pushed callback payloads. Deliveries for different tasks
// run independently; duplicate deliveries of one task are dropped through
// the tracker claim.
type Receiver struct {
	tracker      Tracker
	materializer *Materializer
	cfg          ReceiverConfig
	now          func() time.Time
}

// NewReceiver creates a callback receiver.
func NewReceiver(tracker Tracker, materializer *Materializer, cfg ReceiverConfig) *Receiver {
	if cfg.Dir == "" {
		cfg.Dir = "results"
	}
	return &Receiver{tracker: tracker, materializer: materializer, cfg: cfg, now: time.Now}
}

// Deliver handles one callback. It returns ErrUnknownTask for unexpected
// ids, nil for non-terminal and duplicate deliveries, the TerminalFailure of
// a failed task, and the materialization error of a completed one.
func (r *Receiver) Deliver(ctx context.Context, p msst.CallbackPayload) error {
	received := r.now()
	ctx = ctxutil.SetTaskID(ctx, p.TaskID)

	job, ok, err := r.tracker.Lookup(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("failed to look up task %s: %w", p.TaskID, err)
	}
	if !ok {
		logger.Warnf(ctx, "ignoring callback for unknown task %s (status %s)", p.TaskID, p.Status)
		return ErrUnknownTask
	}
	if !p.Status.IsTerminal() {
		logger.Debugf(ctx, "ignoring non-terminal callback for task %s", p.TaskID)
		return nil
	}

	won, err := r.tracker.Claim(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("failed to claim task %s: %w", p.TaskID, err)
	}
	if !won {
		logger.Infof(ctx, "duplicate callback for task %s dropped", p.TaskID)
		return nil
	}

	if p.Status == msst.StateFailed {
		failure := ecode.NewTerminalFailure(p.TaskID, p.Message)
		logger.Errorf(ctx, "task %s failed: %s", p.TaskID, p.Message)
		observes.CaptureError(ctx, failure, map[string]string{"stage": "callback"})
		if err := r.tracker.Finish(ctx, p.TaskID, true); err != nil {
			logger.Warnf(ctx, "failed to mark task %s finished: %v", p.TaskID, err)
		}
		r.report(ctx, Outcome{TaskID: p.TaskID, State: p.Status, Err: failure})
		return failure
	}

	refs := RefsFromPayload(&p, job, received)
	report := r.materializer.Materialize(ctx, p.TaskID, refs, filepath.Join(r.cfg.Dir, p.TaskID))
	ok = report.OK()

	// Only a delivery that materialized nothing may be retried; anything
	// else would fetch the succeeded items again.
	if err := r.tracker.Finish(ctx, p.TaskID, len(report.Succeeded()) > 0); err != nil {
		logger.Warnf(ctx, "failed to finish claim of task %s: %v", p.TaskID, err)
	}
	if ok {
		logger.Infof(ctx, "task %s materialized %d results", p.TaskID, len(report.Items))
		if r.cfg.Cleanup {
			r.materializer.Cleanup(ctx, p.TaskID)
		}
	}

	matErr := report.Err()
	r.report(ctx, Outcome{TaskID: p.TaskID, State: p.Status, Report: report, Err: matErr})
	return matErr
}

func (r *Receiver) report(ctx context.Context, o Outcome) {
	if r.cfg.OnOutcome != nil {
		r.cfg.OnOutcome(ctx, o)
	}
}
