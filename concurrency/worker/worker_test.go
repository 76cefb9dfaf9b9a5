package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{MaxWorkers: 0, QueueSize: 1}).Validate())
	assert.Error(t, (&Config{MaxWorkers: 1, QueueSize: 0}).Validate())
	assert.Error(t, (&Config{MaxWorkers: 1, QueueSize: 1, TaskTimeout: -1}).Validate())

	_, err := NewPool(&Config{})
	assert.Error(t, err)
}

func TestPoolRunsAndDrains(t *testing.T) {
	p, err := NewPool(&Config{MaxWorkers: 3, QueueSize: 50})
	require.NoError(t, err)
	p.Start()

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		panic("bad task")
	}))

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(20), ran.Load())

	m := p.GetMetrics()
	assert.Equal(t, int64(20), m["completed_tasks"])
	assert.Equal(t, int64(2), m["failed_tasks"])
	assert.Equal(t, int64(0), m["pending_tasks"])
	assert.Equal(t, int64(0), m["active_workers"])

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolStopped)
	assert.NoError(t, p.Stop(context.Background()))
}

func TestPoolQueueFull(t *testing.T) {
	p, err := NewPool(&Config{MaxWorkers: 1, QueueSize: 1})
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	require.NoError(t, p.Submit(context.Background(), noop))
	assert.ErrorIs(t, p.Submit(context.Background(), noop), ErrQueueFull)
	assert.True(t, p.IsBusy())

	p.Start()
	require.NoError(t, p.Stop(context.Background()))
}

func TestTaskTimeout(t *testing.T) {
	p, err := NewPool(&Config{MaxWorkers: 1, QueueSize: 1, TaskTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	p.Start()

	got := make(chan error, 1)
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}))

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task deadline not applied")
	}
	require.NoError(t, p.Stop(context.Background()))
}

func TestSubmitDetachesCancellation(t *testing.T) {
	p, err := NewPool(&Config{MaxWorkers: 1, QueueSize: 1})
	require.NoError(t, err)

	type key struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	got := make(chan any, 1)
	require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
		if ctx.Err() != nil {
			got <- ctx.Err()
			return nil
		}
		got <- ctx.Value(key{})
		return nil
	}))
	cancel()

	p.Start()
	assert.Equal(t, "v", <-got)
	require.NoError(t, p.Stop(context.Background()))
}

func TestStopCancelsRunningTasks(t *testing.T) {
	p, err := NewPool(&Config{MaxWorkers: 1, QueueSize: 1})
	require.NoError(t, err)
	p.Start()

	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.GetMetrics()["failed_tasks"])
}

func TestCustomProcessor(t *testing.T) {
	var seen atomic.Int32
	p, err := NewPool(&Config{MaxWorkers: 2, QueueSize: 4}, ProcessorFunc(func(ctx context.Context, task Task) error {
		seen.Add(1)
		return task(ctx)
	}))
	require.NoError(t, err)
	p.Start()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(4), seen.Load())
}
