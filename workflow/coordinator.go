package workflow

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/msst/ctxutil"
	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/oss"
)

// SinkPrefix is the key prefix presigned results are written under.
const SinkPrefix = "separated"

// Options configures a Coordinator.
type Options struct {
	PollInterval time.Duration
	PresignTTL   time.Duration // 0 uses the gateway default
	Cleanup      bool          // cleanup server state after materialization
}

// Coordinator ties storage, submission, completion detection and result
// materialization together for one processing API.
type Coordinator struct {
	api          API
	gateway      *oss.Gateway
	tracker      Tracker
	poller       *Poller
	materializer *Materializer
	opts         Options
	now          func() time.Time
}

// NewCoordinator creates a coordinator. gateway may be nil for direct-mode
// only use; tracker may be nil when no callback jobs are submitted.
func NewCoordinator(api API, gateway *oss.Gateway, tracker Tracker, materializer *Materializer, opts Options) *Coordinator {
	if materializer == nil {
		materializer = NewMaterializer(api, gateway, MaterializerConfig{})
	}
	return &Coordinator{
		api:          api,
		gateway:      gateway,
		tracker:      tracker,
		poller:       NewPoller(api, opts.PollInterval),
		materializer: materializer,
		opts:         opts,
		now:          time.Now,
	}
}

// Materializer returns the coordinator's materializer.
func (c *Coordinator) Materializer() *Materializer { return c.materializer }

// Poller returns the coordinator's poller.
func (c *Coordinator) Poller() *Poller { return c.poller }

// PrepareDirect builds a job that uploads localPath with the request.
func (c *Coordinator) PrepareDirect(localPath, preset, format string) msst.Job {
	job := msst.NewJob(preset, format)
	job.SourcePath = localPath
	return job
}

// PrepareStorageKey builds a job whose source is already stored under key.
func (c *Coordinator) PrepareStorageKey(key, preset, format string) msst.Job {
	job := msst.NewJob(preset, format)
	job.SourceKey = key
	return job
}

// PreparePresigned builds a job in presigned mode: a GET URL for sourceKey
// and one PUT URL per output name under separated/<task id>/.
func (c *Coordinator) PreparePresigned(ctx context.Context, sourceKey, preset string, outputs []string) (msst.Job, error) {
	if c.gateway == nil {
		return msst.Job{}, errors.New("presigned mode requires object storage")
	}
	if len(outputs) == 0 {
		return msst.Job{}, errors.New("presigned mode requires at least one output name")
	}

	job := msst.NewJob(preset, "")
	src, err := c.gateway.Presign(ctx, sourceKey, oss.MethodGet, c.opts.PresignTTL)
	if err != nil {
		return msst.Job{}, fmt.Errorf("failed to presign source: %w", err)
	}
	job.SourceURL = src.URL
	job.PresignExpiresAt = src.ExpiresAt
	job.SinkRefs = make(map[string]string, len(outputs))
	job.SinkKeys = make(map[string]string, len(outputs))

	for _, name := range outputs {
		if _, err := safeBasename(ResultRef{Name: name}); err != nil {
			return msst.Job{}, err
		}
		key := path.Join(SinkPrefix, job.TaskID, name)
		sink, err := c.gateway.Presign(ctx, key, oss.MethodPut, c.opts.PresignTTL)
		if err != nil {
			return msst.Job{}, fmt.Errorf("failed to presign %s: %w", name, err)
		}
		job.SinkRefs[name] = sink.URL
		job.SinkKeys[name] = key
		if sink.ExpiresAt.Before(job.PresignExpiresAt) {
			job.PresignExpiresAt = sink.ExpiresAt
		}
	}
	return job, nil
}

// Submit applies d to job and submits it. The returned task id is the
// server's; callback jobs are registered in the tracker under it. A
// presigned job whose URLs expired is rejected with ecode.ErrURLExpired.
func (c *Coordinator) Submit(ctx context.Context, job msst.Job, d Detection) (msst.Job, error) {
	job, err := ApplyDetection(job, d)
	if err != nil {
		return job, err
	}
	if job.UsesCallback() && c.tracker == nil {
		return job, errors.New("callback detection requires a tracker")
	}
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	if job.PresignExpired(c.now()) {
		return job, ecode.NewURLExpiredError("workflow.submit", job.PresignExpiresAt)
	}

	// Registered before submission so a fast callback is not taken for an
	// unknown task.
	if job.UsesCallback() {
		if err := c.tracker.Expect(ctx, job); err != nil {
			return job, fmt.Errorf("failed to register task %s: %w", job.TaskID, err)
		}
	}

	resp, err := c.api.Submit(ctx, job)
	if err != nil {
		if job.UsesCallback() {
			c.forget(ctx, job.TaskID)
		}
		return job, err
	}
	sent := job.TaskID
	job.TaskID = resp.TaskID

	if job.UsesCallback() && job.TaskID != sent {
		if err := c.tracker.Expect(ctx, job); err != nil {
			c.forget(ctx, sent)
			return job, fmt.Errorf("failed to register task %s: %w", job.TaskID, err)
		}
		c.forget(ctx, sent)
	}
	return job, nil
}

func (c *Coordinator) forget(ctx context.Context, id string) {
	if err := c.tracker.Forget(ctx, id); err != nil {
		logger.Warnf(ctx, "failed to drop registration of task %s: %v", id, err)
	}
}

// Run drives job through the polling path: submit, wait, materialize into
// dir, then clean up when configured. A failed task returns its
// TerminalFailure before any download; a partial materialization returns
// the report together with a *ecode.PartialError.
func (c *Coordinator) Run(ctx context.Context, job msst.Job, dir string) (*Report, error) {
	job, err := c.Submit(ctx, job, Poll{Interval: c.poller.Interval()})
	if err != nil {
		return nil, err
	}
	ctx = ctxutil.SetTaskID(ctx, job.TaskID)

	st, err := c.poller.Wait(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, ecode.ErrTerminalFailure) {
			observes.CaptureError(ctx, err, map[string]string{"stage": "poll"})
		}
		return nil, err
	}

	report := c.materializer.Materialize(ctx, job.TaskID, RefsFromStatus(st, job), filepath.Clean(dir))
	if report.OK() && c.opts.Cleanup {
		c.materializer.Cleanup(ctx, job.TaskID)
	}
	if err := report.Err(); err != nil {
		return report, err
	}

	logger.Infof(ctx, "task %s finished with %d results", job.TaskID, len(report.Items))
	return report, nil
}
