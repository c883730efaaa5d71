package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when a task is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Task is one unit of dispatch work: an action run execution tagged
// with the identifiers it belongs to.
type Task struct {
	OrgID       string
	ActionRunID string
	Run         func(ctx context.Context) error
}

// PoolMetrics is a snapshot of the pool's counters.
type PoolMetrics struct {
	Submitted int64 `json:"submitted"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

type queuedTask struct {
	ctx  context.Context
	task Task
}

// WorkerPool runs dispatch tasks on a fixed set of worker goroutines
// fed by an unbuffered channel. Submission blocks while every worker is
// busy, so bursty events apply backpressure instead of spawning
// unbounded goroutines.
type WorkerPool struct {
	tasks    chan queuedTask
	done     chan struct{}
	workers  sync.WaitGroup
	inflight sync.WaitGroup
	mu       sync.Mutex
	closed   bool

	submitted atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool starts a pool with the given number of workers.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		tasks: make(chan queuedTask),
		done:  make(chan struct{}),
	}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit hands a task to the pool. It blocks until a worker picks the
// task up, respecting context cancellation while waiting. Returns
// ErrPoolShutdown once the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, t Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	select {
	case p.tasks <- queuedTask{ctx: ctx, task: t}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.inflight.Done()
		return ctx.Err()
	case <-p.done:
		p.inflight.Done()
		return ErrPoolShutdown
	}
}

func (p *WorkerPool) worker() {
	defer p.workers.Done()
	for {
		select {
		case qt := <-p.tasks:
			p.execute(qt)
		case <-p.done:
			return
		}
	}
}

func (p *WorkerPool) execute(qt queuedTask) {
	defer p.inflight.Done()
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
		}
	}()

	if err := qt.task.Run(qt.ctx); err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// Wait blocks until every accepted task has finished.
func (p *WorkerPool) Wait() {
	p.inflight.Wait()
}

// Shutdown stops the pool. New submissions are refused; the workers
// exit once every accepted task has run to completion.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()
	close(p.done)
	p.workers.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Submitted: p.submitted.Load(),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
