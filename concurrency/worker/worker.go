package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncobase/msst/logging/logger"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Config represents pool configuration
type Config struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout"` // 0 disables the per task deadline
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:  4,
		QueueSize:   256,
		TaskTimeout: 30 * time.Minute,
	}
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.MaxWorkers < 1 {
		return errors.New("max workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	if cfg.TaskTimeout < 0 {
		return errors.New("task timeout must be greater than or equal to 0")
	}
	return nil
}

// Task is a unit of work. ctx carries the task deadline and is cancelled when
// the pool is stopped forcibly.
type Task func(ctx context.Context) error

// Processor runs queued tasks.
type Processor interface {
	Process(ctx context.Context, task Task) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task Task) error

func (f ProcessorFunc) Process(ctx context.Context, task Task) error { return f(ctx, task) }

type defaultProcessor struct{}

func (defaultProcessor) Process(ctx context.Context, task Task) error { return task(ctx) }

// Metrics tracks pool's operational metrics
type Metrics struct {
	ActiveWorkers  atomic.Int64
	PendingTasks   atomic.Int64
	CompletedTasks atomic.Int64
	FailedTasks    atomic.Int64
	ProcessingTime atomic.Int64 // nanoseconds
}

type queued struct {
	ctx  context.Context
	task Task
}

// Pool is a bounded worker pool. Submit never blocks: a full queue is
// reported with ErrQueueFull.
type Pool struct {
	maxWorkers  int
	queueSize   int
	taskTimeout time.Duration
	processor   Processor

	tasks  chan queued
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	metrics *Metrics
}

// NewPool creates a new worker pool. A nil cfg uses DefaultConfig.
//
// Usage:
//
//	pool, err := worker.NewPool(&worker.Config{MaxWorkers: 4, QueueSize: 64})
//	if err != nil {
//	    return err
//	}
//	pool.Start()
//	defer pool.Stop(shutdownCtx)
//
//	err = pool.Submit(ctx, func(ctx context.Context) error {
//	    return receiver.Deliver(ctx, payload)
//	})
func NewPool(cfg *Config, processors ...Processor) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker pool config: %w", err)
	}

	var processor Processor = defaultProcessor{}
	if len(processors) > 0 && processors[0] != nil {
		processor = processors[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		maxWorkers:  cfg.MaxWorkers,
		queueSize:   cfg.QueueSize,
		taskTimeout: cfg.TaskTimeout,
		processor:   processor,
		tasks:       make(chan queued, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &Metrics{},
	}, nil
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop stops accepting tasks and drains the queue. When ctx ends first the
// running tasks are cancelled and Stop returns ctx.Err().
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit queues task. Values of ctx flow into the task context, its
// cancellation does not: a request scoped ctx may end before the task runs.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- queued{ctx: context.WithoutCancel(ctx), task: task}:
		p.metrics.PendingTasks.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for q := range p.tasks {
		p.processTask(q)
	}
}

func (p *Pool) processTask(q queued) {
	start := time.Now()
	p.metrics.ActiveWorkers.Add(1)
	p.metrics.PendingTasks.Add(-1)

	ctx, stop := context.WithCancel(q.ctx)
	defer stop()
	unlink := context.AfterFunc(p.ctx, stop)
	defer unlink()
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		p.metrics.ActiveWorkers.Add(-1)
		p.metrics.ProcessingTime.Add(time.Since(start).Nanoseconds())
		if err != nil {
			p.metrics.FailedTasks.Add(1)
			logger.Warnf(ctx, "worker task failed: %v", err)
			return
		}
		p.metrics.CompletedTasks.Add(1)
	}()

	err = p.processor.Process(ctx, q.task)
}

// GetMetrics returns the current metrics
func (p *Pool) GetMetrics() map[string]int64 {
	return map[string]int64{
		"active_workers":  p.metrics.ActiveWorkers.Load(),
		"pending_tasks":   p.metrics.PendingTasks.Load(),
		"completed_tasks": p.metrics.CompletedTasks.Load(),
		"failed_tasks":    p.metrics.FailedTasks.Load(),
		"processing_time": p.metrics.ProcessingTime.Load(),
	}
}

// IsBusy returns whether the pool is busy
func (p *Pool) IsBusy() bool {
	return p.metrics.ActiveWorkers.Load() >= int64(p.maxWorkers) ||
		p.metrics.PendingTasks.Load() >= int64(p.queueSize)
}
