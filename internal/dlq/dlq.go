// Package dlq moves messages a consumer keeps failing on to an error queue
// and replays them onto their source queue later.
//
// The error queue of a queue is the one named by the error_queue setting or,
// when none is configured, "<queue>__errors".
//
// A dead-lettered message is wrapped in a Record so that Replay can restore
// the original body:
//
//	{"source":"orders","id":"01J...","error":"...","failed_at":"...","body":{...}}
//
// Messages that are not Records (for example ones the service itself moved
// to an error queue after exhausting push retries) are replayed unchanged.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/guestful/ironmq/pkg/ironmq"
	"github.com/guestful/ironmq/pkg/settings"
)

// Suffix is appended to a queue name to form its default error queue.
const Suffix = "__errors"

// ErrSameQueue is returned when a queue would dead-letter onto itself.
var ErrSameQueue = errors.New("dlq: error queue is the source queue")

// Name returns the error queue name of primary under s.
func Name(primary string, s *settings.Settings) string {
	if s != nil {
		if eq, ok := s.ErrorQueueName(); ok && eq != "" {
			return eq
		}
	}
	return primary + Suffix
}

// Record is the body of a dead-lettered message.
type Record struct {
	Source   string          `json:"source"`
	ID       string          `json:"id"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
	Body     json.RawMessage `json:"body"`
}

// Handler dead-letters messages from one source queue. Its Handle method is
// an ironmq.ErrorHandler.
type Handler struct {
	ctx             context.Context
	target          *ironmq.Queue
	maxReservations int
	logger          *slog.Logger

	moved atomic.Int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxReservations leaves a failed message for redelivery until the
// service has handed it out n times. Values below 1 mean 1.
func WithMaxReservations(n int) Option {
	return func(h *Handler) { h.maxReservations = n }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New returns a Handler that moves messages to target. ctx bounds the
// requests Handle makes.
func New(ctx context.Context, target *ironmq.Queue, opts ...Option) *Handler {
	h := &Handler{ctx: ctx, target: target, maxReservations: 1}
	for _, o := range opts {
		o(h)
	}
	if h.maxReservations < 1 {
		h.maxReservations = 1
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("error_queue", target.Name())
	return h
}

// Target returns the error queue.
func (h *Handler) Target() *ironmq.Queue { return h.target }

// Moved returns how many messages the handler has dead-lettered.
func (h *Handler) Moved() int64 { return h.moved.Load() }

// Handle dead-letters m once it has been reserved often enough. Earlier
// failures leave m reserved; the service redelivers it when the reservation
// times out.
func (h *Handler) Handle(m *ironmq.Message, cause error) {
	if n := m.ReservedCount(); n > 0 && n < h.maxReservations {
		h.logger.Warn("dlq: consumer failed, message left for redelivery",
			"message", m.ID(), "reserved", n, "max", h.maxReservations, "err", cause)
		return
	}
	if err := h.Move(h.ctx, m, cause); err != nil {
		h.logger.Error("dlq: move failed", "message", m.ID(), "err", err)
	}
}

// Move puts m on the error queue and then deletes it from its source. A
// failed delete leaves the message on both queues.
func (h *Handler) Move(ctx context.Context, m *ironmq.Message, cause error) error {
	if h.target.Name() == m.Queue().Name() {
		return ErrSameQueue
	}
	rec := Record{
		Source:   m.Queue().Name(),
		ID:       m.ID(),
		FailedAt: time.Now().UTC(),
		Body:     m.Body(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if _, err := h.target.Offer(ctx, rec); err != nil {
		return fmt.Errorf("dlq: offer %s to %s: %w", m.ID(), h.target.Name(), err)
	}
	if err := m.Delete(ctx); err != nil {
		return fmt.Errorf("dlq: delete %s from %s: %w", m.ID(), rec.Source, err)
	}
	h.moved.Add(1)
	h.logger.Warn("dlq: message dead-lettered", "message", m.ID(), "source", rec.Source, "err", cause)
	return nil
}

// Replay moves up to limit messages from the error queue from back onto to.
// limit <= 0 replays until from is empty. Each message is offered to to and
// then deleted from from. It returns the number of messages replayed.
func Replay(ctx context.Context, from, to *ironmq.Queue, limit int) (int, error) {
	if from.Name() == to.Name() {
		return 0, ErrSameQueue
	}
	replayed := 0
	for limit <= 0 || replayed < limit {
		m, err := from.Poll(ctx)
		if err != nil {
			return replayed, fmt.Errorf("dlq: poll %s: %w", from.Name(), err)
		}
		if m == nil {
			break
		}

		if _, err := to.Offer(ctx, json.RawMessage(Unwrap(m.Body()))); err != nil {
			if rerr := m.Release(ctx); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return replayed, fmt.Errorf("dlq: replay %s to %s: %w", m.ID(), to.Name(), err)
		}
		if err := m.Delete(ctx); err != nil {
			return replayed, fmt.Errorf("dlq: delete replayed %s: %w", m.ID(), err)
		}
		replayed++
	}
	return replayed, nil
}

// Unwrap returns the original body of a Record, or body itself when it is
// not one.
func Unwrap(body json.RawMessage) json.RawMessage {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil || rec.Source == "" || len(rec.Body) == 0 {
		return body
	}
	return rec.Body
}
