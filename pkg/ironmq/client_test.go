package ironmq_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestful/ironmq/internal/id"
	"github.com/guestful/ironmq/internal/journal"
	"github.com/guestful/ironmq/pkg/backoff"
	"github.com/guestful/ironmq/pkg/ironmq"
)

func TestClient_SendsAuthAndHeaders(t *testing.T) {
	e := newEnv(t, ironmq.WithUserAgent("test-agent/2"))
	_, err := e.project.Queues(ctx())
	require.NoError(t, err)

	reqs := e.srv.Requests()
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, "/1/projects/p1/queues", r.Path)
	assert.Equal(t, token, r.Query.Get("oauth"))
	assert.Equal(t, "application/json", r.Header.Get("Accept"))
	assert.Equal(t, "test-agent/2", r.Header.Get("User-Agent"))
	assert.NoError(t, id.Validate(r.Header.Get("X-Request-Id")))
}

func TestClient_RetriesServerErrorsWithSameRequestID(t *testing.T) {
	e := newEnv(t)
	e.srv.CreateQueue("q")
	e.srv.Fail(2, http.StatusServiceUnavailable)

	n, err := e.queue(t, "q").Size(ctx())
	require.NoError(t, err)
	assert.Zero(t, n)

	reqs := e.srv.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, reqs[0].Header.Get("X-Request-Id"), reqs[2].Header.Get("X-Request-Id"))
	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second}, e.sleeps.all())
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	e := newEnv(t)
	e.srv.Put("q", `{}`)
	e.srv.Hangup(1)

	n, err := e.queue(t, "q").Size(ctx())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, e.sleeps.all(), 1)
}

func TestClient_RetriesAttemptTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"q"}]`))
	}))
	t.Cleanup(srv.Close)

	sl := &sleeps{}
	c := ironmq.New(
		ironmq.WithBaseURL(srv.URL),
		ironmq.WithTimeout(100*time.Millisecond),
		ironmq.WithLogger(quiet()),
		ironmq.WithBackoff(backoff.New(backoff.WithSleep(sl.sleep), backoff.WithLogger(quiet()))),
	)

	qs, err := c.Project(projectID, token).Queues(ctx())
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "q", qs[0].Name())
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{10 * time.Second}, sl.all())
}

func TestClient_ExhaustedRetries(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.project.Settings().SetBackoffRetries(2))
	e.srv.Fail(10, http.StatusInternalServerError)

	_, err := e.queue(t, "q").Size(ctx())
	require.Error(t, err)
	assert.ErrorIs(t, err, backoff.ErrExhausted)
	assert.Equal(t, 3, len(e.srv.Requests()))
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	e := newEnv(t)
	e.srv.Fail(1, http.StatusForbidden)

	_, err := e.project.Queues(ctx())
	require.Error(t, err)
	assert.True(t, ironmq.IsClientError(err))
	assert.False(t, ironmq.IsNotFound(err))
	var ae *ironmq.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)
	assert.Equal(t, "Forbidden", ae.Message)
	assert.Len(t, e.srv.Requests(), 1)
	assert.Empty(t, e.sleeps.all())
}

func TestClient_BadTokenIsClientError(t *testing.T) {
	e := newEnv(t)
	p := e.client.Project(projectID, "wrong")
	_, err := p.Queues(ctx())
	var ae *ironmq.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
	assert.Equal(t, "Invalid authentication", ae.Message)
}

func TestClient_DisabledRecordsInsteadOfSending(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	e := newEnv(t, ironmq.WithDisabled(j))
	assert.False(t, e.client.Enabled())
	q := e.queue(t, "q")

	_, err = q.Offer(ctx(), map[string]int{"n": 1})
	require.NoError(t, err)
	m, err := q.Poll(ctx())
	require.NoError(t, err)
	assert.Nil(t, m, "disabled poll yields no message")
	n, err := q.Size(ctx())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, e.srv.Requests(), "nothing reaches the service")

	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, http.MethodPost, entries[0].Method)
	assert.Equal(t, "projects/p1/queues/q/messages", entries[0].Path)
	assert.NotContains(t, entries[0].Query, "oauth")
	assert.Equal(t, "1", entries[1].Query.Get("n"))

	var body struct {
		Messages []struct {
			Body string `json:"body"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(entries[0].Body, &body))
	assert.JSONEq(t, `{"n":1}`, body.Messages[0].Body)

	e.client.SetEnabled(true)
	_, err = q.Size(ctx())
	require.NoError(t, err)
	assert.Len(t, e.srv.Requests(), 1)
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEnv(t, ironmq.WithMetrics(reg))
	e.srv.CreateQueue("q")
	e.srv.Fail(1, http.StatusBadGateway)

	_, err := e.queue(t, "q").Size(ctx())
	require.NoError(t, err)

	expected := `
# HELP ironmq_requests_total Requests sent to the queue service by method and final status.
# TYPE ironmq_requests_total counter
ironmq_requests_total{method="GET",status="200"} 1
# HELP ironmq_retries_total Backoff retries scheduled by method.
# TYPE ironmq_retries_total counter
ironmq_retries_total{method="GET"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ironmq_requests_total", "ironmq_retries_total"))
}

func TestClient_RateLimit(t *testing.T) {
	e := newEnv(t, ironmq.WithRateLimit(20, 1))
	e.srv.CreateQueue("q")
	q := e.queue(t, "q")

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := q.Size(ctx())
		require.NoError(t, err)
	}
	// burst 1 at 20/s: three waits of ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestNew_Defaults(t *testing.T) {
	c := ironmq.New()
	assert.Equal(t, ironmq.DefaultBaseURL, c.BaseURL())
	assert.True(t, c.Enabled())

	c = ironmq.New(ironmq.WithBaseURL("http://localhost:8080/1/"))
	assert.Equal(t, "http://localhost:8080/1", c.BaseURL())
}
