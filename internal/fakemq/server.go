// Package fakemq is an in-memory stand-in for the IronMQ v1 REST API, served
// by httptest. It keeps enough queue semantics (reservation, timeouts, delay,
// release, long-poll) to drive the client end to end, and can inject failing
// statuses or dropped connections ahead of real handling.
//
// Routes (relative to URL()):
//
//	GET    /projects/{project}/queues
//	GET    /projects/{project}/queues/{queue}
//	POST   /projects/{project}/queues/{queue}
//	DELETE /projects/{project}/queues/{queue}
//	POST   /projects/{project}/queues/{queue}/messages
//	GET    /projects/{project}/queues/{queue}/messages
//	DELETE /projects/{project}/queues/{queue}/messages/{id}
//	POST   /projects/{project}/queues/{queue}/messages/{id}/touch
//	POST   /projects/{project}/queues/{queue}/messages/{id}/release
package fakemq

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// prefix is the API version segment the real service serves under.
const prefix = "/1"

// Request is one request received by the server, faults included.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Option configures a Server.
type Option func(*Server)

// WithMaxHold caps how long a long-poll is held open when the queue is
// empty. The default is 25ms so pollers asking for 30s stay fast in tests.
func WithMaxHold(d time.Duration) Option {
	return func(s *Server) { s.maxHold = d }
}

// WithLogger sets the logger used for per-request debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is a fake IronMQ endpoint. It is safe for concurrent use.
type Server struct {
	project string
	token   string
	maxHold time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	queues   map[string]*queue
	changed  chan struct{}
	faults   []fault
	requests []Request

	ts *httptest.Server
}

// New starts a server accepting requests for project authenticated by token.
// Callers must Close it.
func New(project, token string, opts ...Option) *Server {
	s := &Server{
		project: project,
		token:   token,
		maxHold: 25 * time.Millisecond,
		queues:  make(map[string]*queue),
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.ts = httptest.NewServer(s.routes())
	return s
}

// URL is the base URL to hand to ironmq.WithBaseURL.
func (s *Server) URL() string { return s.ts.URL + prefix }

// HTTPClient returns a client that opens a new connection per request.
func (s *Server) HTTPClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

// Close shuts the server down.
func (s *Server) Close() { s.ts.Close() }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	base := prefix + "/projects/{project}/queues"

	mux.HandleFunc("GET "+base, s.listQueues)
	mux.HandleFunc("GET "+base+"/{queue}", s.getQueue)
	mux.HandleFunc("POST "+base+"/{queue}", s.updateQueue)
	mux.HandleFunc("DELETE "+base+"/{queue}", s.deleteQueue)

	mux.HandleFunc("POST "+base+"/{queue}/messages", s.postMessages)
	mux.HandleFunc("GET "+base+"/{queue}/messages", s.getMessages)
	mux.HandleFunc("DELETE "+base+"/{queue}/messages/{id}", s.deleteMessage)
	mux.HandleFunc("POST "+base+"/{queue}/messages/{id}/touch", s.touchMessage)
	mux.HandleFunc("POST "+base+"/{queue}/messages/{id}/release", s.releaseMessage)

	return s.recordMiddleware(s.faultMiddleware(s.authMiddleware(mux)))
}

// ─── Middleware ───────────────────────────────────────────────────────────────

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// recordMiddleware appends every request to the log and emits a debug line.
func (s *Server) recordMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("fakemq",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// authMiddleware checks the oauth query parameter and the project id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("oauth") != s.token {
			writeMsg(w, http.StatusUnauthorized, "Invalid authentication")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Inspection ───────────────────────────────────────────────────────────────

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestCount returns how many requests matched method and path. An empty
// method matches any method.
func (s *Server) RequestCount(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && r.Path == prefix+path {
			n++
		}
	}
	return n
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}
