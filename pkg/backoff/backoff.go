// Package backoff runs a request under the bounded exponential-backoff policy
// described by a settings.Settings value.
//
// # Policy
//
// When BackoffInterval or BackoffRetries is zero the attempt runs exactly
// once and its result is returned unchanged. Otherwise up to
// BackoffRetries+1 attempts are made:
//
//   - a response that is not a server error (including 4xx) is returned at once;
//   - a 5xx response or a transport error is retried after a sleep;
//   - a Permanent error, or any error once ctx is done, is returned at once.
//
// Sleeps start at BackoffInterval and grow by BackoffFactor, rounded to the
// millisecond at every step:
//
//	10s, 15s, 22.5s, 33.75s, 50.625s   (interval=10s, factor=1.5)
//
// Cancelling ctx while the executor sleeps aborts the call with an error that
// matches ErrInterrupted. When the budget runs out the call fails with an
// *ExhaustedError that wraps the last transport error, if there was one.
//
// The executor is synchronous: attempts and sleeps happen on the calling
// goroutine and a single call never issues attempts concurrently.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/guestful/ironmq/pkg/settings"
)

// ErrInterrupted is returned when the context is cancelled during a backoff
// sleep. The context error is wrapped as well.
var ErrInterrupted = errors.New("backoff: interrupted during backoff")

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("backoff: retries exhausted")

// ExhaustedError is returned when every attempt ended in a TransientFailure.
type ExhaustedError struct {
	// Attempts is the number of attempts made (BackoffRetries+1).
	Attempts int
	// LastStatus is the status of the final attempt when it produced a
	// response, zero otherwise.
	LastStatus int
	// Err is the error of the final attempt, nil when it produced a 5xx.
	Err error
}

func (e *ExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backoff: no retry left after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("backoff: no retry left after %d attempts and no result (last status %d)", e.Attempts, e.LastStatus)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryFunc observes every scheduled retry before its sleep. cause is the
// transport error or nil for a 5xx response.
type RetryFunc func(retry int, sleep time.Duration, status int, cause error)

// Executor carries the collaborators of Execute. The zero value is not
// usable; call New.
type Executor struct {
	logger  *slog.Logger
	sleep   SleepFunc
	onRetry RetryFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSleep replaces the sleep function. Tests use it to record the schedule
// without waiting.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithOnRetry installs a hook that runs before every backoff sleep.
func WithOnRetry(fn RetryFunc) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// New returns an Executor that logs to slog.Default and sleeps on a timer.
func New(opts ...Option) *Executor {
	e := &Executor{}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sleep == nil {
		e.sleep = Sleep
	}
	return e
}

// Execute runs attempt under the backoff policy of s. A nil e uses New().
//
// attempt must return a non-nil result whenever it returns a nil error.
func Execute[R Result](ctx context.Context, e *Executor, s *settings.Settings, attempt func(context.Context) (R, error)) (R, error) {
	if e == nil {
		e = New()
	}
	if s.BackoffInterval() == 0 || s.BackoffRetries() == 0 {
		return attempt(ctx)
	}

	var (
		zero       R
		maxRetries = s.BackoffRetries()
		retries    = 0
		sleepMs    = float64(s.BackoffInterval().Milliseconds())
		lastStatus int
		lastErr    error
	)

	for retries <= maxRetries {
		if retries > 0 {
			e.logger.Debug("backoff retry", "retry", retries, "of", maxRetries)
		}

		r, err := attempt(ctx)
		switch Classify(ctx, r, err) {
		case Success, ClientFailure:
			return r, nil
		case TerminalFailure:
			return r, err
		}

		if err != nil {
			e.logger.Warn("backoff attempt failed", "retry", retries, "err", err)
			lastErr, lastStatus = err, 0
		} else {
			lastStatus = r.Status()
			e.logger.Debug("backoff server error", "retry", retries, "status", lastStatus)
			lastErr = nil
		}

		retries++
		if retries > maxRetries {
			break
		}

		d := time.Duration(sleepMs) * time.Millisecond
		if e.onRetry != nil {
			e.onRetry(retries, d, lastStatus, lastErr)
		}
		e.logger.Debug("backoff sleep", "sleep", d)
		if err := e.sleep(ctx, d); err != nil {
			e.logger.Debug("backoff sleep interrupted", "err", err)
			return zero, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		sleepMs = next(sleepMs, s.BackoffFactor())
	}

	e.logger.Debug("backoff no retry left", "attempts", retries)
	return zero, &ExhaustedError{Attempts: retries, LastStatus: lastStatus, Err: lastErr}
}

// Delays returns the sleeps Execute would make under s when every attempt
// fails, in order. It is empty when backoff is disabled.
func Delays(s *settings.Settings) []time.Duration {
	if s.BackoffInterval() == 0 || s.BackoffRetries() == 0 {
		return nil
	}
	out := make([]time.Duration, 0, s.BackoffRetries())
	ms := float64(s.BackoffInterval().Milliseconds())
	for i := 0; i < s.BackoffRetries(); i++ {
		out = append(out, time.Duration(ms)*time.Millisecond)
		ms = next(ms, s.BackoffFactor())
	}
	return out
}

// maxSleepMs keeps the millisecond count convertible to a time.Duration.
const maxSleepMs = float64(math.MaxInt64 / int64(time.Millisecond))

// next grows a sleep by factor, rounding to the nearest millisecond.
func next(ms, factor float64) float64 {
	n := math.Round(ms * factor)
	if n > maxSleepMs {
		return maxSleepMs
	}
	return n
}

// Sleep waits for d or until ctx is done. It returns ctx.Err() when the
// context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
