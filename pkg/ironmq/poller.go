package ironmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guestful/ironmq/internal/id"
	"github.com/guestful/ironmq/internal/metrics"
	"github.com/guestful/ironmq/pkg/backoff"
	"github.com/guestful/ironmq/pkg/settings"
	"github.com/guestful/ironmq/pkg/workpool"
)

// Consumer handles one polled message. Returning nil deletes the message;
// returning an error (or panicking) leaves it reserved so the service
// redelivers it once its timeout elapses.
type Consumer func(ctx context.Context, m *Message) error

// ErrorHandler is told about every message a Consumer failed on.
type ErrorHandler func(m *Message, err error)

// State is the externally visible state of a Poller.
type State int32

const (
	Active State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ─── Poller options ───────────────────────────────────────────────────────────

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithErrorHandler replaces the default handler, which logs the failure.
func WithErrorHandler(h ErrorHandler) PollerOption {
	return func(p *Poller) { p.onError = h }
}

// WithIdleDelay waits d before the next tick after an empty poll or a failed
// tick. The default is 0: the next long-poll is issued at once.
func WithIdleDelay(d time.Duration) PollerOption {
	return func(p *Poller) { p.idleDelay = d }
}

// WithPollerLogger sets the poller's logger. The default is the client's.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollSettings replaces the settings each tick polls with. The long-poll
// wait is always forced to settings.MaxWait.
func WithPollSettings(s *settings.Settings) PollerOption {
	return func(p *Poller) { p.settings = s.Copy() }
}

// ─── Poller ───────────────────────────────────────────────────────────────────

// Poller consumes a queue in the background. Each tick long-polls for one
// message, hands it to the Consumer and deletes it on success. A tick is
// submitted to the scheduler only after the previous one has returned, so
// ticks of one Poller never overlap.
//
// The loop ends when Stop is called, when its context is done, when a
// backoff sleep is interrupted or when the scheduler rejects a tick for a
// reason other than workpool.ErrQueueFull. Transport failures, consumer
// failures and a full pool do not end it.
type Poller struct {
	id        string
	queue     *Queue
	sched     workpool.Scheduler
	consumer  Consumer
	onError   ErrorHandler
	idleDelay time.Duration
	logger    *slog.Logger
	settings  *settings.Settings
	metrics   *metrics.Metrics
	ctx       context.Context

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once

	state atomic.Int32
	ticks atomic.Uint64

	mu  sync.Mutex
	err error
}

func startPoller(ctx context.Context, q *Queue, sched workpool.Scheduler, consumer Consumer, opts ...PollerOption) (*Poller, error) {
	if consumer == nil {
		return nil, errors.New("ironmq: nil consumer")
	}
	if sched == nil {
		sched = workpool.Go
	}
	pid, err := id.New()
	if err != nil {
		return nil, fmt.Errorf("ironmq: poller id: %w", err)
	}

	client := q.project.client
	p := &Poller{
		id:       pid,
		queue:    q,
		sched:    sched,
		consumer: consumer,
		logger:   client.logger,
		metrics:  client.metrics,
		ctx:      ctx,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.settings == nil {
		p.settings = q.project.settings.Copy()
	}
	if err := p.settings.SetPollWait(settings.MaxWait); err != nil {
		return nil, err
	}
	p.logger = p.logger.With("poller", p.id, "queue", q.name, "project", q.project.id)
	if p.onError == nil {
		p.onError = p.logFailure
	}

	p.metrics.PollerStarted()
	p.logger.Debug("ironmq: poller started")
	if err := sched.Submit(p.tick); err != nil {
		err = fmt.Errorf("ironmq: poller %s: submit first tick: %w", p.id, err)
		p.finish(err)
		return nil, err
	}
	return p, nil
}

// ID returns the ULID identifying the poller in logs.
func (p *Poller) ID() string { return p.id }

// Queue returns the polled queue.
func (p *Poller) Queue() *Queue { return p.queue }

// Stop asks the loop to end. An in-flight long-poll or consumer call is not
// interrupted; at most one more tick completes after Stop returns. Stop is
// idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.state.Store(int32(Stopped))
		close(p.stop)
	})
}

// State reports Stopped once Stop has been called or the loop has ended.
func (p *Poller) State() State { return State(p.state.Load()) }

// Done is closed when the last tick has returned.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until the loop has ended or ctx is done.
func (p *Poller) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns why the loop ended: nil after Stop, otherwise the context
// error, the interrupted backoff or the scheduler rejection.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Ticks returns the number of ticks started so far.
func (p *Poller) Ticks() uint64 { return p.ticks.Load() }

func (p *Poller) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *Poller) tick() {
	p.ticks.Add(1)
	idle, err := p.runOnce()
	p.reschedule(idle, err)
}

// runOnce polls one message and consumes it. idle is true when the queue was
// empty.
func (p *Poller) runOnce() (idle bool, err error) {
	p.logger.Debug("ironmq: polling")
	m, err := p.queue.PollWith(p.ctx, p.settings)
	if err != nil {
		p.metrics.IncPoll(p.queue.name, metrics.PollError)
		return false, err
	}
	if m == nil {
		p.metrics.IncPoll(p.queue.name, metrics.PollEmpty)
		return true, nil
	}
	p.metrics.IncPoll(p.queue.name, metrics.PollMessage)

	if cerr := p.consume(m); cerr != nil {
		p.handleFailure(m, cerr)
		return false, nil
	}
	p.metrics.IncConsumed(p.queue.name, metrics.ConsumeOK)

	p.logger.Debug("ironmq: removing message", "message", m.id)
	if err := m.Delete(p.ctx); err != nil {
		return false, fmt.Errorf("delete message %s: %w", m.id, err)
	}
	p.metrics.IncDeleted(p.queue.name)
	return false, nil
}

func (p *Poller) consume(m *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.IncConsumed(p.queue.name, metrics.ConsumePanic)
			err = fmt.Errorf("ironmq: consumer panicked: %v", r)
		}
	}()
	if err = p.consumer(p.ctx, m); err != nil {
		p.metrics.IncConsumed(p.queue.name, metrics.ConsumeFailed)
	}
	return err
}

func (p *Poller) handleFailure(m *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ironmq: error handler panicked", "message", m.id, "panic", r)
		}
	}()
	p.onError(m, err)
}

func (p *Poller) logFailure(m *Message, err error) {
	p.logger.Error("ironmq: error while processing message",
		"message", m.id, "body", string(m.body), "err", err)
}

func (p *Poller) reschedule(idle bool, err error) {
	if err != nil {
		if errors.Is(err, backoff.ErrInterrupted) {
			p.finish(err)
			return
		}
		if p.ctx.Err() == nil {
			p.logger.Error("ironmq: poller tick failed", "err", err)
		}
		idle = true
	}
	if p.stopping() {
		p.finish(nil)
		return
	}
	if cerr := p.ctx.Err(); cerr != nil {
		p.finish(cerr)
		return
	}

	if idle && p.idleDelay > 0 {
		t := time.NewTimer(p.idleDelay)
		select {
		case <-t.C:
		case <-p.stop:
			t.Stop()
			p.finish(nil)
			return
		case <-p.ctx.Done():
			t.Stop()
			p.finish(p.ctx.Err())
			return
		}
	}

	p.submit()
}

// fullPoolPause is waited before resubmitting a tick a full pool rejected,
// unless the idle delay is longer.
const fullPoolPause = 100 * time.Millisecond

// submit hands the next tick to the scheduler. A full workpool.Pool is
// retried from a timer so the worker running this tick is released; any
// other rejection ends the loop.
func (p *Poller) submit() {
	serr := p.sched.Submit(p.tick)
	if serr == nil {
		return
	}
	if !errors.Is(serr, workpool.ErrQueueFull) {
		p.finish(fmt.Errorf("ironmq: poller %s: submit tick: %w", p.id, serr))
		return
	}

	pause := max(p.idleDelay, fullPoolPause)
	p.logger.Warn("ironmq: worker pool full, retrying tick", "pause", pause)
	time.AfterFunc(pause, func() {
		if p.stopping() {
			p.finish(nil)
			return
		}
		if err := p.ctx.Err(); err != nil {
			p.finish(err)
			return
		}
		p.submit()
	})
}

func (p *Poller) finish(err error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.state.Store(int32(Stopped))
		p.metrics.PollerStopped()
		if err != nil {
			p.logger.Warn("ironmq: poller ended", "ticks", p.ticks.Load(), "err", err)
		} else {
			p.logger.Info("ironmq: poller stopped", "ticks", p.ticks.Load())
		}
		close(p.done)
	})
}
