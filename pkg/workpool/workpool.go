// Package workpool provides the execution contexts a Poller submits its ticks
// to.
//
// A Scheduler only has to run the task it is given, at some point, on some
// goroutine. Two implementations are provided:
//
//   - Go runs every task on a fresh goroutine.
//   - Pool runs tasks on a fixed set of workers fed by a bounded queue.
//
// Submit never blocks. A full Pool rejects the task with ErrQueueFull so the
// caller decides what overload means.
package workpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotStarted     = errors.New("workpool: not started")
	ErrStopped        = errors.New("workpool: stopped")
	ErrAlreadyStarted = errors.New("workpool: already started")
	ErrQueueFull      = errors.New("workpool: queue full")
	ErrStopTimeout    = errors.New("workpool: timeout waiting for workers to stop")
)

// Scheduler runs units of work.
type Scheduler interface {
	Submit(task func()) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(task func()) error

func (f SchedulerFunc) Submit(task func()) error { return f(task) }

// Go is a Scheduler that starts one goroutine per task.
var Go Scheduler = SchedulerFunc(func(task func()) error {
	go task()
	return nil
})

// Stats is a snapshot of a Pool's counters.
type Stats struct {
	Workers   int
	Queued    int
	Submitted int64
	Completed int64
	Panicked  int64
	Rejected  int64
}

// Pool is a fixed-size worker pool. It is safe for concurrent use.
type Pool struct {
	workers   int
	queueSize int
	logger    *slog.Logger

	tasks chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a Pool. Non-positive sizes fall back to 4 workers and a queue
// of 64.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		workers:   workers,
		queueSize: queueSize,
		tasks:     make(chan func(), queueSize),
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Start launches the workers. Workers exit when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return nil
}

// Submit queues task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case p.stopped:
		return ErrStopped
	case !p.started:
		return ErrNotStarted
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop closes the queue, lets the workers drain it and waits up to timeout
// for them to exit.
func (p *Pool) Stop(timeout time.Duration) error {
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
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("workpool: task panicked", "panic", r)
			return
		}
		p.completed.Add(1)
	}()
	task()
}
