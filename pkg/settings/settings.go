// Package settings holds the per-project and per-call parameters of the
// ironmq client: message lifetimes, long-poll behaviour, push-queue retries
// and the backoff policy applied to every outbound request.
//
// Every setter validates its argument and rejects out-of-range input with an
// error wrapping ErrInvalidSetting. Nothing is clamped and nothing is mutated
// when validation fails.
//
// A Settings value may be shared read-only by many goroutines. Callers that
// need a one-off variation (a different poll wait, a different delay) take a
// Copy and change the copy:
//
//	s := project.Settings().Copy()
//	if err := s.SetPollWait(10 * time.Second); err != nil {
//	    return err
//	}
//	msg, err := queue.PollWith(ctx, s)
package settings

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSetting is returned by every setter when its argument is outside
// the documented range.
var ErrInvalidSetting = errors.New("settings: invalid value")

// Bounds and defaults. Durations are whole seconds on the wire.
const (
	MinTimeout     = 30 * time.Second
	MaxTimeout     = 86_400 * time.Second
	DefaultTimeout = 60 * time.Second

	MinDelay     = 0
	MaxDelay     = 604_800 * time.Second
	DefaultDelay = MinDelay

	MinExpiration     = 0
	MaxExpiration     = 2_592_000 * time.Second
	DefaultExpiration = MaxDelay

	MinWait     = 0
	MaxWait     = 30 * time.Second
	DefaultWait = MinWait

	MinPushRetries     = 0
	MaxPushRetries     = 100
	DefaultPushRetries = 3

	MinPushRetryDelay     = 3 * time.Second
	MaxPushRetryDelay     = MaxTimeout
	DefaultPushRetryDelay = 60 * time.Second

	MinBackoffRetries     = 0
	DefaultBackoffRetries = 5

	MinBackoffInterval     = 0
	MaxBackoffInterval     = MaxTimeout
	DefaultBackoffInterval = 10 * time.Second

	MinBackoffFactor     = 1.0
	DefaultBackoffFactor = 1.5
)

// Settings is a validated configuration bag. The zero value is not usable;
// construct one with New or Default.
//
// All fields are plain values so a struct copy never shares state with its
// source.
type Settings struct {
	messageTimeout    int // seconds
	messageDelay      int
	messageExpiration int
	pollWait          int
	pollDelete        bool
	pushRetries       int
	pushRetryDelay    int
	errorQueue        string
	hasErrorQueue     bool
	backoffRetries    int
	backoffInterval   int
	backoffFactor     float64
}

// Option configures a Settings value in New.
type Option func(*Settings) error

// Default returns a Settings populated with the documented defaults.
func Default() *Settings {
	return &Settings{
		messageTimeout:    seconds(DefaultTimeout),
		messageDelay:      seconds(DefaultDelay),
		messageExpiration: seconds(DefaultExpiration),
		pollWait:          seconds(DefaultWait),
		pushRetries:       DefaultPushRetries,
		pushRetryDelay:    seconds(DefaultPushRetryDelay),
		backoffRetries:    DefaultBackoffRetries,
		backoffInterval:   seconds(DefaultBackoffInterval),
		backoffFactor:     DefaultBackoffFactor,
	}
}

// New returns Default() with opts applied in order. The first failing option
// aborts construction.
//
//	s, err := settings.New(
//	    settings.WithPollWait(20*time.Second),
//	    settings.WithBackoffRetries(3),
//	)
func New(opts ...Option) (*Settings, error) {
	s := Default()
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Copy returns an independent snapshot of s.
func (s *Settings) Copy() *Settings {
	c := *s
	return &c
}

// ─── Getters ─────────────────────────────────────────────────────────────────

// MessageTimeout is how long a reserved message stays invisible before the
// service puts it back on the queue.
func (s *Settings) MessageTimeout() time.Duration { return duration(s.messageTimeout) }

// MessageDelay is how long a newly offered message stays hidden.
func (s *Settings) MessageDelay() time.Duration { return duration(s.messageDelay) }

// MessageExpiration is how long an offered message is kept before the service
// drops it.
func (s *Settings) MessageExpiration() time.Duration { return duration(s.messageExpiration) }

// PollWait is the long-poll wait of a single poll request.
func (s *Settings) PollWait() time.Duration { return duration(s.pollWait) }

// PollDelete reports whether polled messages are deleted on receipt.
func (s *Settings) PollDelete() bool { return s.pollDelete }

// PushRetries is the number of push attempts for unicast/multicast queues.
func (s *Settings) PushRetries() int { return s.pushRetries }

// PushRetryDelay is the delay between push attempts.
func (s *Settings) PushRetryDelay() time.Duration { return duration(s.pushRetryDelay) }

// ErrorQueueName returns the push error queue and whether one is set.
func (s *Settings) ErrorQueueName() (string, bool) { return s.errorQueue, s.hasErrorQueue }

// BackoffRetries is the number of retries after the first attempt.
func (s *Settings) BackoffRetries() int { return s.backoffRetries }

// BackoffInterval is the sleep before the first retry.
func (s *Settings) BackoffInterval() time.Duration { return duration(s.backoffInterval) }

// BackoffFactor is the growth applied to the sleep after every retry.
func (s *Settings) BackoffFactor() float64 { return s.backoffFactor }

// ─── Setters ─────────────────────────────────────────────────────────────────

// SetMessageTimeout accepts [30s, 24h].
func (s *Settings) SetMessageTimeout(d time.Duration) error {
	v, err := inRange("message_timeout", d, MinTimeout, MaxTimeout)
	if err != nil {
		return err
	}
	s.messageTimeout = v
	return nil
}

// SetMessageDelay accepts [0, 7d].
func (s *Settings) SetMessageDelay(d time.Duration) error {
	v, err := inRange("message_delay", d, MinDelay, MaxDelay)
	if err != nil {
		return err
	}
	s.messageDelay = v
	return nil
}

// SetMessageExpiration accepts [0, 30d].
func (s *Settings) SetMessageExpiration(d time.Duration) error {
	v, err := inRange("message_expiration", d, MinExpiration, MaxExpiration)
	if err != nil {
		return err
	}
	s.messageExpiration = v
	return nil
}

// SetPollWait accepts [0, 30s]. Zero disables long polling.
func (s *Settings) SetPollWait(d time.Duration) error {
	v, err := inRange("poll_wait", d, MinWait, MaxWait)
	if err != nil {
		return err
	}
	s.pollWait = v
	return nil
}

// SetPollDelete makes polls delete messages on receipt. Only use it when
// losing a message after receipt is acceptable.
func (s *Settings) SetPollDelete(v bool) {
	s.pollDelete = v
}

// SetPushRetries accepts [0, 100].
func (s *Settings) SetPushRetries(n int) error {
	if n < MinPushRetries || n > MaxPushRetries {
		return fmt.Errorf("%w: push_retries %d not in [%d, %d]", ErrInvalidSetting, n, MinPushRetries, MaxPushRetries)
	}
	s.pushRetries = n
	return nil
}

// SetPushRetryDelay accepts [3s, 24h].
func (s *Settings) SetPushRetryDelay(d time.Duration) error {
	v, err := inRange("push_retry_delay", d, MinPushRetryDelay, MaxPushRetryDelay)
	if err != nil {
		return err
	}
	s.pushRetryDelay = v
	return nil
}

// SetErrorQueueName sets the push error queue. An empty name clears it.
func (s *Settings) SetErrorQueueName(name string) {
	s.errorQueue = name
	s.hasErrorQueue = name != ""
}

// SetBackoffRetries accepts any n >= 0.
func (s *Settings) SetBackoffRetries(n int) error {
	if n < MinBackoffRetries {
		return fmt.Errorf("%w: backoff_retries %d must be >= %d", ErrInvalidSetting, n, MinBackoffRetries)
	}
	s.backoffRetries = n
	return nil
}

// SetBackoffInterval accepts [0, 24h]. Zero disables retries.
func (s *Settings) SetBackoffInterval(d time.Duration) error {
	v, err := inRange("backoff_interval", d, MinBackoffInterval, MaxBackoffInterval)
	if err != nil {
		return err
	}
	s.backoffInterval = v
	return nil
}

// SetBackoffFactor accepts any f >= 1.0.
func (s *Settings) SetBackoffFactor(f float64) error {
	// NaN fails every comparison, so test the accepted range instead.
	if !(f >= MinBackoffFactor) {
		return fmt.Errorf("%w: backoff_factor %v must be >= %v", ErrInvalidSetting, f, MinBackoffFactor)
	}
	s.backoffFactor = f
	return nil
}

// ─── Options ─────────────────────────────────────────────────────────────────

func WithMessageTimeout(d time.Duration) Option {
	return func(s *Settings) error { return s.SetMessageTimeout(d) }
}

func WithMessageDelay(d time.Duration) Option {
	return func(s *Settings) error { return s.SetMessageDelay(d) }
}

func WithMessageExpiration(d time.Duration) Option {
	return func(s *Settings) error { return s.SetMessageExpiration(d) }
}

func WithPollWait(d time.Duration) Option {
	return func(s *Settings) error { return s.SetPollWait(d) }
}

func WithPollDelete(v bool) Option {
	return func(s *Settings) error { s.SetPollDelete(v); return nil }
}

func WithPushRetries(n int) Option {
	return func(s *Settings) error { return s.SetPushRetries(n) }
}

func WithPushRetryDelay(d time.Duration) Option {
	return func(s *Settings) error { return s.SetPushRetryDelay(d) }
}

func WithErrorQueueName(name string) Option {
	return func(s *Settings) error { s.SetErrorQueueName(name); return nil }
}

func WithBackoffRetries(n int) Option {
	return func(s *Settings) error { return s.SetBackoffRetries(n) }
}

func WithBackoffInterval(d time.Duration) Option {
	return func(s *Settings) error { return s.SetBackoffInterval(d) }
}

func WithBackoffFactor(f float64) Option {
	return func(s *Settings) error { return s.SetBackoffFactor(f) }
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// inRange truncates d to whole seconds and checks it against [lo, hi].
func inRange(name string, d, lo, hi time.Duration) (int, error) {
	v := d / time.Second
	if d < 0 || v < lo/time.Second || v > hi/time.Second {
		return 0, fmt.Errorf("%w: %s %s not in [%s, %s]", ErrInvalidSetting, name, d, lo, hi)
	}
	return int(v), nil
}

func seconds(d time.Duration) int { return int(d / time.Second) }

func duration(sec int) time.Duration { return time.Duration(sec) * time.Second }
