package fakemq

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const maxWait = 30

// ─── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"msg": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// notifyLocked wakes every held long-poll. Callers hold s.mu.
func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) checkProject(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("project") != s.project {
		writeMsg(w, http.StatusNotFound, "Project not found")
		return false
	}
	return true
}

// ─── Queues ───────────────────────────────────────────────────────────────────

type queueJSON struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	Name          string       `json:"name"`
	Size          int          `json:"size"`
	TotalMessages int64        `json:"total_messages"`
	PushType      string       `json:"push_type"`
	Retries       int          `json:"retries,omitempty"`
	RetriesDelay  int          `json:"retries_delay,omitempty"`
	ErrorQueue    string       `json:"error_queue,omitempty"`
	Subscribers   []subscriber `json:"subscribers,omitempty"`
}

func (s *Server) queueJSON(q *queue) queueJSON {
	return queueJSON{
		ID:            q.name,
		ProjectID:     s.project,
		Name:          q.name,
		Size:          q.size(time.Now()),
		TotalMessages: q.total,
		PushType:      q.pushType,
		Retries:       q.retries,
		RetriesDelay:  q.retriesDelay,
		ErrorQueue:    q.errorQueue,
		Subscribers:   q.subscribers,
	}
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	s.mu.Lock()
	out := make([]map[string]string, 0, len(s.queues))
	for _, name := range s.queueNamesLocked() {
		out = append(out, map[string]string{"id": name, "project_id": s.project, "name": name})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	s.mu.Lock()
	q, ok := s.queues[r.PathValue("queue")]
	var body queueJSON
	if ok {
		body = s.queueJSON(q)
	}
	s.mu.Unlock()
	if !ok {
		writeMsg(w, http.StatusNotFound, "Queue not found")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) updateQueue(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	var req struct {
		PushType     string       `json:"push_type"`
		Retries      *int         `json:"retries"`
		RetriesDelay *int         `json:"retries_delay"`
		ErrorQueue   string       `json:"error_queue"`
		Subscribers  []subscriber `json:"subscribers"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.PushType {
	case "", "pull", "unicast", "multicast":
	default:
		writeMsg(w, http.StatusBadRequest, "invalid push_type")
		return
	}

	name := r.PathValue("queue")
	s.mu.Lock()
	q, ok := s.queues[name]
	if !ok {
		q = newQueue(name)
		s.queues[name] = q
	}
	if req.PushType != "" {
		q.pushType = req.PushType
	}
	if req.Retries != nil {
		q.retries = *req.Retries
	}
	if req.RetriesDelay != nil {
		q.retriesDelay = *req.RetriesDelay
	}
	if req.ErrorQueue != "" {
		q.errorQueue = req.ErrorQueue
	}
	if req.Subscribers != nil {
		q.subscribers = req.Subscribers
	}
	body := s.queueJSON(q)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) deleteQueue(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	name := r.PathValue("queue")
	s.mu.Lock()
	_, ok := s.queues[name]
	delete(s.queues, name)
	s.mu.Unlock()
	if !ok {
		writeMsg(w, http.StatusNotFound, "Queue not found")
		return
	}
	writeMsg(w, http.StatusOK, "Deleted")
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (s *Server) postMessages(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	var req struct {
		Messages []struct {
			Body      *string `json:"body"`
			Timeout   int     `json:"timeout"`
			Delay     int     `json:"delay"`
			ExpiresIn int     `json:"expires_in"`
		} `json:"messages"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeMsg(w, http.StatusBadRequest, "no messages")
		return
	}
	for _, m := range req.Messages {
		if m.Body == nil {
			writeMsg(w, http.StatusBadRequest, "message body required")
			return
		}
	}

	name := r.PathValue("queue")
	now := time.Now()
	s.mu.Lock()
	q, ok := s.queues[name]
	if !ok {
		q = newQueue(name)
		s.queues[name] = q
	}
	ids := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		ids = append(ids, q.put(*m.Body, m.Timeout, m.Delay, m.ExpiresIn, now))
	}
	s.notifyLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"ids": ids, "msg": "Messages put on queue."})
}

type envelopeJSON struct {
	ID            string `json:"id"`
	Body          string `json:"body"`
	Timeout       int    `json:"timeout"`
	ReservedCount int    `json:"reserved_count"`
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	n, err1 := intParam(r, "n", 1)
	wait, err2 := intParam(r, "wait", 0)
	timeout, err3 := intParam(r, "timeout", 0)
	if err := errors.Join(err1, err2, err3); err != nil || n < 1 || wait < 0 || wait > maxWait {
		writeMsg(w, http.StatusBadRequest, "invalid query parameters")
		return
	}
	del := r.URL.Query().Get("delete") == "true"

	name := r.PathValue("queue")
	hold := time.Duration(wait) * time.Second
	if hold > s.maxHold {
		hold = s.maxHold
	}
	deadline := time.Now().Add(hold)

	for {
		s.mu.Lock()
		q, ok := s.queues[name]
		if !ok {
			s.mu.Unlock()
			writeMsg(w, http.StatusNotFound, "Queue not found")
			return
		}
		now := time.Now()
		out := make([]envelopeJSON, 0, n)
		for len(out) < n {
			m := q.reserve(timeout, del, now)
			if m == nil {
				break
			}
			out = append(out, envelopeJSON{ID: m.id, Body: m.body, Timeout: m.timeout, ReservedCount: m.reserved})
		}
		changed := s.changed
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if len(out) > 0 || remaining <= 0 {
			writeJSON(w, http.StatusOK, map[string]any{"messages": out})
			return
		}

		t := time.NewTimer(remaining)
		select {
		case <-changed:
			t.Stop()
		case <-t.C:
		case <-r.Context().Done():
			t.Stop()
			return
		}
	}
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	s.mu.Lock()
	q, ok := s.queues[r.PathValue("queue")]
	removed := ok && q.remove(r.PathValue("id"))
	s.mu.Unlock()
	if !removed {
		writeMsg(w, http.StatusNotFound, "Message not found")
		return
	}
	writeMsg(w, http.StatusOK, "Deleted")
}

func (s *Server) touchMessage(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	now := time.Now()
	s.mu.Lock()
	var m *message
	if q, ok := s.queues[r.PathValue("queue")]; ok {
		_, m = q.find(r.PathValue("id"))
	}
	touched := m != nil && now.Before(m.reservedUntil)
	if touched {
		m.reservedUntil = now.Add(time.Duration(m.timeout) * time.Second)
	}
	s.mu.Unlock()
	if !touched {
		writeMsg(w, http.StatusNotFound, "Message not reserved")
		return
	}
	writeMsg(w, http.StatusOK, "Touched")
}

func (s *Server) releaseMessage(w http.ResponseWriter, r *http.Request) {
	if !s.checkProject(w, r) {
		return
	}
	var req struct {
		Delay int `json:"delay"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	now := time.Now()
	s.mu.Lock()
	var m *message
	if q, ok := s.queues[r.PathValue("queue")]; ok {
		_, m = q.find(r.PathValue("id"))
	}
	released := m != nil && now.Before(m.reservedUntil)
	if released {
		m.reservedUntil = time.Time{}
		m.availableAt = now.Add(time.Duration(req.Delay) * time.Second)
		s.notifyLocked()
	}
	s.mu.Unlock()
	if !released {
		writeMsg(w, http.StatusNotFound, "Message not reserved")
		return
	}
	writeMsg(w, http.StatusOK, "Released")
}
