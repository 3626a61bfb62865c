package backoff_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestful/ironmq/pkg/backoff"
	"github.com/guestful/ironmq/pkg/settings"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type status int

func (s status) Status() int { return int(s) }

// recorder replaces the executor sleep and remembers every requested duration.
type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func newExecutor(r *recorder) *backoff.Executor {
	return backoff.New(
		backoff.WithSleep(r.sleep),
		backoff.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func mustSettings(t *testing.T, opts ...settings.Option) *settings.Settings {
	t.Helper()
	s, err := settings.New(opts...)
	require.NoError(t, err)
	return s
}

// script returns an attempt function that replays outcomes in order and
// counts its calls.
func script(calls *int, outcomes ...func() (status, error)) func(context.Context) (status, error) {
	return func(context.Context) (status, error) {
		i := *calls
		*calls++
		if i >= len(outcomes) {
			i = len(outcomes) - 1
		}
		return outcomes[i]()
	}
}

func respond(code int) func() (status, error) {
	return func() (status, error) { return status(code), nil }
}

func fail(err error) func() (status, error) {
	return func() (status, error) { return 0, err }
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestExecute_DisabledBackoff_SingleAttempt(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name string
		opts []settings.Option
	}{
		{"zero interval", []settings.Option{settings.WithBackoffInterval(0), settings.WithBackoffRetries(5)}},
		{"zero retries", []settings.Option{settings.WithBackoffInterval(10 * time.Second), settings.WithBackoffRetries(0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			s := mustSettings(t, tc.opts...)

			calls := 0
			got, err := backoff.Execute(context.Background(), newExecutor(rec), s, script(&calls, respond(503)))
			require.NoError(t, err)
			assert.Equal(t, 503, got.Status(), "5xx returned unmodified")
			assert.Equal(t, 1, calls)

			calls = 0
			_, err = backoff.Execute(context.Background(), newExecutor(rec), s, script(&calls, fail(boom)))
			assert.Same(t, boom, err, "error returned unmodified")
			assert.Equal(t, 1, calls)
			assert.Empty(t, rec.sleeps)
		})
	}
}

func TestExecute_ServerErrors_ExhaustAfterNPlusOne(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t,
		settings.WithBackoffInterval(10*time.Second),
		settings.WithBackoffFactor(1.5),
		settings.WithBackoffRetries(5),
	)

	calls := 0
	_, err := backoff.Execute(context.Background(), newExecutor(rec), s, script(&calls, respond(500)))

	require.Error(t, err)
	assert.ErrorIs(t, err, backoff.ErrExhausted)
	var ex *backoff.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 6, ex.Attempts)
	assert.Equal(t, 500, ex.LastStatus)
	assert.Nil(t, ex.Err)

	assert.Equal(t, 6, calls)
	assert.Equal(t, []time.Duration{
		10 * time.Second,
		15 * time.Second,
		22500 * time.Millisecond,
		33750 * time.Millisecond,
		50625 * time.Millisecond,
	}, rec.sleeps)
}

func TestExecute_RoundingAccumulates(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t,
		settings.WithBackoffInterval(1*time.Second),
		settings.WithBackoffFactor(1.0007),
		settings.WithBackoffRetries(3),
	)
	calls := 0
	_, _ = backoff.Execute(context.Background(), newExecutor(rec), s, script(&calls, respond(502)))

	// 1000 → round(1000.7)=1001 → round(1001.7007)=1002
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 1001 * time.Millisecond, 1002 * time.Millisecond}, rec.sleeps)
	assert.Equal(t, backoff.Delays(s), rec.sleeps)
}

func TestExecute_TransportError_LastErrorSurfaced(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t, settings.WithBackoffInterval(time.Second), settings.WithBackoffRetries(2))

	first := errors.New("connection reset")
	last := errors.New("connection refused")
	calls := 0
	_, err := backoff.Execute(context.Background(), newExecutor(rec), s,
		script(&calls, fail(first), respond(503), fail(last)))

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, backoff.ErrExhausted)
	assert.ErrorIs(t, err, last)
	assert.NotErrorIs(t, err, first)
}

func TestExecute_ServerErrorAfterTransportError_NoCause(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t, settings.WithBackoffInterval(time.Second), settings.WithBackoffRetries(1))

	calls := 0
	_, err := backoff.Execute(context.Background(), newExecutor(rec), s,
		script(&calls, fail(errors.New("reset")), respond(500)))

	var ex *backoff.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Nil(t, ex.Err, "error of an earlier iteration is cleared")
	assert.Equal(t, 500, ex.LastStatus)
}

func TestExecute_SuccessStopsRetrying(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t, settings.WithBackoffInterval(2*time.Second), settings.WithBackoffRetries(5))

	calls := 0
	got, err := backoff.Execute(context.Background(), newExecutor(rec), s,
		script(&calls, respond(500), fail(errors.New("eof")), respond(200)))

	require.NoError(t, err)
	assert.Equal(t, 200, got.Status())
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, rec.sleeps)
}

func TestExecute_ClientErrorNotRetried(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t, settings.WithBackoffRetries(5))

	calls := 0
	got, err := backoff.Execute(context.Background(), newExecutor(rec), s, script(&calls, respond(404)))

	require.NoError(t, err)
	assert.Equal(t, 404, got.Status())
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t)

	bad := errors.New("bad request body")
	calls := 0
	_, err := backoff.Execute(context.Background(), newExecutor(rec), s, script(&calls, fail(backoff.Permanent(bad))))

	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
}

func TestExecute_CancelledDuringSleep(t *testing.T) {
	s := mustSettings(t, settings.WithBackoffInterval(time.Second), settings.WithBackoffRetries(3))

	ctx, cancel := context.WithCancel(context.Background())
	ex := backoff.New(
		backoff.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		backoff.WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	calls := 0
	_, err := backoff.Execute(ctx, ex, s, script(&calls, respond(503)))

	assert.ErrorIs(t, err, backoff.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, backoff.ErrExhausted)
	assert.Equal(t, 1, calls, "never retried after interruption")
}

func TestExecute_RealSleepHonoursContext(t *testing.T) {
	s := mustSettings(t, settings.WithBackoffInterval(time.Hour), settings.WithBackoffRetries(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	calls := 0
	_, err := backoff.Execute(ctx, backoff.New(backoff.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))), s,
		script(&calls, respond(500)))

	assert.ErrorIs(t, err, backoff.ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_OnRetryHook(t *testing.T) {
	rec := &recorder{}
	s := mustSettings(t, settings.WithBackoffInterval(time.Second), settings.WithBackoffRetries(2), settings.WithBackoffFactor(2))

	type call struct {
		retry  int
		sleep  time.Duration
		status int
	}
	var got []call
	ex := backoff.New(
		backoff.WithSleep(rec.sleep),
		backoff.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		backoff.WithOnRetry(func(retry int, sleep time.Duration, status int, _ error) {
			got = append(got, call{retry, sleep, status})
		}),
	)

	calls := 0
	_, _ = backoff.Execute(context.Background(), ex, s, script(&calls, respond(500), respond(503)))

	assert.Equal(t, []call{{1, time.Second, 500}, {2, 2 * time.Second, 503}}, got)
}

func TestDelays_DisabledIsEmpty(t *testing.T) {
	s := mustSettings(t, settings.WithBackoffRetries(0))
	assert.Empty(t, backoff.Delays(s))
}
