package ironmq_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guestful/ironmq/internal/fakemq"
	"github.com/guestful/ironmq/pkg/backoff"
	"github.com/guestful/ironmq/pkg/ironmq"
)

const (
	projectID = "p1"
	token     = "tok"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// sleeps records backoff sleeps instead of waiting.
type sleeps struct {
	mu  sync.Mutex
	got []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.got...)
}

type env struct {
	srv     *fakemq.Server
	client  *ironmq.Client
	project *ironmq.Project
	sleeps  *sleeps
}

// newEnv starts a fake service and a client pointed at it. Backoff sleeps are
// recorded, not waited.
func newEnv(t *testing.T, opts ...ironmq.Option) *env {
	t.Helper()
	srv := fakemq.New(projectID, token, fakemq.WithLogger(quiet()))
	t.Cleanup(srv.Close)

	sl := &sleeps{}
	base := []ironmq.Option{
		ironmq.WithBaseURL(srv.URL()),
		ironmq.WithHTTPClient(srv.HTTPClient()),
		ironmq.WithLogger(quiet()),
		ironmq.WithBackoff(backoff.New(backoff.WithSleep(sl.sleep), backoff.WithLogger(quiet()))),
	}
	c := ironmq.New(append(base, opts...)...)
	return &env{srv: srv, client: c, project: c.Project(projectID, token), sleeps: sl}
}

func (e *env) queue(t *testing.T, name string) *ironmq.Queue {
	t.Helper()
	q, err := e.project.Queue(name)
	require.NoError(t, err)
	return q
}

func ctx() context.Context { return context.Background() }
