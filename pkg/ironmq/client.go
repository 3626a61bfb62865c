// Package ironmq is a Go client for the IronMQ v1 hosted message queue.
//
// # Quick start
//
//	c := ironmq.New()
//	p := c.Project(projectID, token)
//
//	q, err := p.Queue("invoices")
//	ids, err := q.Offer(ctx, map[string]any{"amount": 42})
//
//	m, err := q.Poll(ctx)
//	if m != nil {
//	    handle(m)
//	    _ = m.Delete(ctx)
//	}
//
// # Background consumption
//
//	poller, err := q.AsyncPoll(ctx, workpool.Go, func(ctx context.Context, m *ironmq.Message) error {
//	    return handle(m)
//	})
//	defer poller.Stop()
//
// # Retries
//
// Every request runs under the backoff policy of the settings it is issued
// with (see package backoff). 5xx responses and transport errors are retried,
// 4xx responses are returned to the caller as *APIError.
//
// Client is safe for concurrent use.
package ironmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/guestful/ironmq/internal/id"
	"github.com/guestful/ironmq/internal/metrics"
	"github.com/guestful/ironmq/pkg/backoff"
	"github.com/guestful/ironmq/pkg/settings"
)

const (
	// DefaultBaseURL is the IronMQ v1 endpoint on AWS us-east-1.
	DefaultBaseURL = "https://mq-aws-us-east-1.iron.io/1"

	// DefaultTimeout bounds one HTTP attempt. It must exceed settings.MaxWait
	// so a long-poll is never cut short by the client.
	DefaultTimeout = 60 * time.Second

	DefaultUserAgent = "ironmq-go/1.0"
)

// Recorder receives the requests a disabled client skips. The oauth token is
// part of query; implementations decide whether to keep it.
type Recorder interface {
	Record(method, path string, query url.Values, body []byte) error
}

// ─── Client options ───────────────────────────────────────────────────────────

// Option configures a Client.
type Option func(*Client)

// WithBaseURL replaces DefaultBaseURL. A trailing slash is ignored.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit caps outgoing attempts at rps per second with the given
// burst. Retries count against the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics registers the client's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithBackoff replaces the executor that runs every request.
func WithBackoff(e *backoff.Executor) Option {
	return func(c *Client) { c.backoff = e }
}

// WithDisabled starts the client disabled: no request leaves the process and
// every call behaves as if the service answered 200 with no body. Skipped
// requests are handed to rec when it is not nil.
func WithDisabled(rec Recorder) Option {
	return func(c *Client) {
		c.disabled.Store(true)
		c.recorder = rec
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the transport shared by every Project, Queue and Message.
type Client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
	limiter    *rate.Limiter
	backoff    *backoff.Executor
	registerer prometheus.Registerer
	metrics    *metrics.Metrics

	disabled atomic.Bool
	recorder Recorder
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.backoff == nil {
		c.backoff = backoff.New(backoff.WithLogger(c.logger))
	}
	if c.registerer != nil {
		m, err := metrics.New(c.registerer)
		if err != nil {
			c.logger.Warn("ironmq: metrics disabled", "err", err)
		} else {
			c.metrics = m
		}
	}
	return c
}

// Project returns a handle on the project identified by id and authenticated
// by token. The project starts with default settings.
func (c *Client) Project(projectID, token string) *Project {
	return &Project{
		client:   c,
		id:       projectID,
		token:    token,
		settings: settings.Default(),
	}
}

// ProjectWithSettings is Project with a copy of s as the project defaults.
func (c *Client) ProjectWithSettings(projectID, token string, s *settings.Settings) *Project {
	p := c.Project(projectID, token)
	p.settings = s.Copy()
	return p
}

// Enabled reports whether requests are sent.
func (c *Client) Enabled() bool { return !c.disabled.Load() }

// SetEnabled turns request sending on or off.
func (c *Client) SetEnabled(v bool) { c.disabled.Store(!v) }

// BaseURL returns the service endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// ─── Transport ────────────────────────────────────────────────────────────────

// response is one fully read HTTP response. It satisfies backoff.Result.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) Status() int { return r.status }

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

// decode unmarshals the body into v. An empty body leaves v untouched.
func (r *response) decode(v any) error {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("ironmq: decode response: %w", err)
	}
	return nil
}

// request sends method path (relative to the base URL) under the backoff
// policy of s. The returned response may carry any status; callers decide
// which ones are errors.
func (c *Client) request(ctx context.Context, s *settings.Settings, method, path string, query url.Values, body any) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ironmq: marshal request: %w", err)
		}
	}

	if !c.Enabled() {
		c.logger.Debug("ironmq: client disabled, request skipped", "method", method, "path", path, "body", string(payload))
		if c.recorder != nil {
			if err := c.recorder.Record(method, path, query, payload); err != nil {
				c.logger.Warn("ironmq: record skipped request", "method", method, "path", path, "err", err)
			}
		}
		return &response{status: http.StatusOK}, nil
	}

	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	reqID, err := id.New()
	if err != nil {
		return nil, fmt.Errorf("ironmq: request id: %w", err)
	}

	start := time.Now()
	attempts := 0
	resp, err := backoff.Execute(ctx, c.backoff, s, func(ctx context.Context) (*response, error) {
		attempts++
		if attempts > 1 {
			c.metrics.IncRetry(method)
		}
		return c.attempt(ctx, method, path, target, reqID, payload)
	})

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.status)
	}
	c.metrics.ObserveRequest(method, status, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("ironmq: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path, target, reqID string, payload []byte) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limit: %w", err))
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", reqID)

	c.logger.Debug("ironmq: request", "method", method, "path", path, "request_id", reqID)
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("ironmq: response", "method", method, "path", path, "status", httpResp.StatusCode, "request_id", reqID)
	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}, nil
}
