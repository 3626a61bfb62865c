package fakemq

import (
	"net/http"
	"strings"
)

// fault is a canned failure consumed by the next matching request.
type fault struct {
	method string
	path   string // suffix match on the path below the project; empty matches all
	status int    // 0 drops the connection
	left   int
}

func (f *fault) matches(r *http.Request) bool {
	if f.method != "" && f.method != r.Method {
		return false
	}
	return f.path == "" || strings.HasSuffix(r.URL.Path, f.path)
}

// Fail makes the next n requests answer status without being handled.
func (s *Server) Fail(n, status int) {
	s.FailMatching("", "", n, status)
}

// FailMatching is Fail restricted to requests with the given method whose
// path ends with pathSuffix. Empty values match everything.
func (s *Server) FailMatching(method, pathSuffix string, n, status int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.faults = append(s.faults, fault{method: method, path: pathSuffix, status: status, left: n})
	s.mu.Unlock()
}

// Hangup makes the next n requests close the connection without answering,
// which the client sees as a transport error. Use HTTPClient so the
// transport does not silently replay the request on a fresh connection.
func (s *Server) Hangup(n int) {
	s.FailMatching("", "", n, 0)
}

func (s *Server) takeFault(r *http.Request) (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.faults {
		f := &s.faults[i]
		if f.left > 0 && f.matches(r) {
			f.left--
			got := *f
			if f.left == 0 {
				s.faults = append(s.faults[:i], s.faults[i+1:]...)
			}
			return got, true
		}
	}
	return fault{}, false
}

func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.takeFault(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.status == 0 {
			panic(http.ErrAbortHandler)
		}
		writeMsg(w, f.status, http.StatusText(f.status))
	})
}
