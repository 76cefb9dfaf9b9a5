package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ncobase/msst/msst"
	"github.com/redis/go-redis/v9"
)

// Default lifetimes of tracker entries.
const (
	DefaultJobTTL   = 7 * 24 * time.Hour
	DefaultClaimTTL = 30 * time.Minute
)

// Tracker remembers which tasks are expected to call back and guards each
// terminal delivery so it is acted on once.
type Tracker interface {
	// Expect registers a submitted callback job under its task id.
	Expect(ctx context.Context, job msst.Job) error
	// Forget drops the registration of id. Claims are left alone.
	Forget(ctx context.Context, id string) error
	// Lookup returns the job registered for id.
	Lookup(ctx context.Context, id string) (msst.Job, bool, error)
	// Claim reports whether the caller won the right to handle id's terminal
	// delivery. It is false while another handler holds the claim and after
	// the task finished.
	Claim(ctx context.Context, id string) (bool, error)
	// Finish ends a claim. ok marks the task done for good; otherwise the
	// claim is released so a redelivery can retry.
	Finish(ctx context.Context, id string, ok bool) error
}

type memJob struct {
	job     msst.Job
	expires time.Time
}

// MemoryTrackerOptions sets entry lifetimes of a MemoryTracker.
type MemoryTrackerOptions struct {
	JobTTL   time.Duration // expected jobs and done markers, default DefaultJobTTL
	ClaimTTL time.Duration // unfinished claims, default DefaultClaimTTL
}

// MemoryTracker is a Tracker for a single callback process. Entries expire
// like their RedisTracker counterparts and are swept at most once a minute.
type MemoryTracker struct {
	mu        sync.Mutex
	jobs      map[string]memJob
	claims    map[string]time.Time // claim id -> expiry
	opts      MemoryTrackerOptions
	now       func() time.Time
	lastSweep time.Time
}

const sweepEvery = time.Minute

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker(opts ...MemoryTrackerOptions) *MemoryTracker {
	var o MemoryTrackerOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.JobTTL <= 0 {
		o.JobTTL = DefaultJobTTL
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = DefaultClaimTTL
	}
	return &MemoryTracker{
		jobs:   map[string]memJob{},
		claims: map[string]time.Time{},
		opts:   o,
		now:    time.Now,
	}
}

// sweep drops expired entries. Callers hold mu.
func (t *MemoryTracker) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < sweepEvery {
		return
	}
	t.lastSweep = now
	for id, j := range t.jobs {
		if !now.Before(j.expires) {
			delete(t.jobs, id)
		}
	}
	for id, expires := range t.claims {
		if !now.Before(expires) {
			delete(t.claims, id)
		}
	}
}

// Expect implements Tracker.
func (t *MemoryTracker) Expect(_ context.Context, job msst.Job) error {
	if job.TaskID == "" {
		return errors.New("job has no task id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.sweep(now)
	t.jobs[job.TaskID] = memJob{job: job, expires: now.Add(t.opts.JobTTL)}
	return nil
}

// Forget implements Tracker.
func (t *MemoryTracker) Forget(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
	return nil
}

// Lookup implements Tracker.
func (t *MemoryTracker) Lookup(_ context.Context, id string) (msst.Job, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok || !t.now().Before(j.expires) {
		return msst.Job{}, false, nil
	}
	return j.job, true, nil
}

// Claim implements Tracker.
func (t *MemoryTracker) Claim(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if expires, ok := t.claims[id]; ok && now.Before(expires) {
		return false, nil
	}
	t.claims[id] = now.Add(t.opts.ClaimTTL)
	return true, nil
}

// Finish implements Tracker.
func (t *MemoryTracker) Finish(_ context.Context, id string, ok bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.sweep(now)
	if ok {
		// a done claim outlives a pending one
		t.claims[id] = now.Add(t.opts.JobTTL)
	} else {
		delete(t.claims, id)
	}
	return nil
}

// RedisTrackerOptions tunes key naming and lifetimes.
type RedisTrackerOptions struct {
	Prefix   string        // key prefix, default "msst"
	JobTTL   time.Duration // lifetime of expected jobs and done markers
	ClaimTTL time.Duration // lifetime of an unfinished claim
}

// RedisTracker is a Tracker shared by several callback replicas.
type RedisTracker struct {
	rdb  redis.UniversalClient
	opts RedisTrackerOptions
}

// NewRedisTracker creates a tracker over rdb.
func NewRedisTracker(rdb redis.UniversalClient, opts RedisTrackerOptions) *RedisTracker {
	if opts.Prefix == "" {
		opts.Prefix = "msst"
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultJobTTL
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultClaimTTL
	}
	return &RedisTracker{rdb: rdb, opts: opts}
}

func (t *RedisTracker) jobKey(id string) string   { return fmt.Sprintf("%s:job:%s", t.opts.Prefix, id) }
func (t *RedisTracker) claimKey(id string) string { return fmt.Sprintf("%s:claim:%s", t.opts.Prefix, id) }

const (
	claimPending = "pending"
	claimDone    = "done"
)

// Expect implements Tracker.
func (t *RedisTracker) Expect(ctx context.Context, job msst.Job) error {
	if job.TaskID == "" {
		return errors.New("job has no task id")
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return t.rdb.Set(ctx, t.jobKey(job.TaskID), b, t.opts.JobTTL).Err()
}

// Forget implements Tracker.
func (t *RedisTracker) Forget(ctx context.Context, id string) error {
	return t.rdb.Del(ctx, t.jobKey(id)).Err()
}

// Lookup implements Tracker.
func (t *RedisTracker) Lookup(ctx context.Context, id string) (msst.Job, bool, error) {
	var job msst.Job
	b, err := t.rdb.Get(ctx, t.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}
	if err := json.Unmarshal(b, &job); err != nil {
		return job, false, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, true, nil
}

// Claim implements Tracker. A finished task keeps its claim key holding
// the done marker, so SETNX alone decides every race.
func (t *RedisTracker) Claim(ctx context.Context, id string) (bool, error) {
	return t.rdb.SetNX(ctx, t.claimKey(id), claimPending, t.opts.ClaimTTL).Result()
}

// Finish implements Tracker.
func (t *RedisTracker) Finish(ctx context.Context, id string, ok bool) error {
	if ok {
		return t.rdb.Set(ctx, t.claimKey(id), claimDone, t.opts.JobTTL).Err()
	}
	return t.rdb.Del(ctx, t.claimKey(id)).Err()
}
