package fakemq

import (
	"sort"
	"time"
)

// Put places body on the named queue, creating it, and returns the id. The
// message has a 60s reservation timeout and no delay.
func (s *Server) Put(name, body string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		q = newQueue(name)
		s.queues[name] = q
	}
	msgID := q.put(body, 60, 0, 0, time.Now())
	s.notifyLocked()
	return msgID
}

// CreateQueue creates an empty pull queue.
func (s *Server) CreateQueue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; !ok {
		s.queues[name] = newQueue(name)
	}
}

// Size returns the number of messages on the queue, reserved ones included,
// or -1 when the queue does not exist.
func (s *Server) Size(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		return -1
	}
	return q.size(time.Now())
}

// Has reports whether the message is still on the queue.
func (s *Server) Has(name, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		return false
	}
	_, m := q.find(msgID)
	return m != nil
}

// Reserved reports whether the message is currently reserved.
func (s *Server) Reserved(name, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		return false
	}
	_, m := q.find(msgID)
	return m != nil && time.Now().Before(m.reservedUntil)
}

// QueueInfo is the configuration of a queue as last set by the client.
type QueueInfo struct {
	PushType     string
	Retries      int
	RetriesDelay int
	ErrorQueue   string
	Subscribers  []string
	Headers      []map[string]string
}

// Queue returns the configuration of a queue.
func (s *Server) Queue(name string) (QueueInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		return QueueInfo{}, false
	}
	info := QueueInfo{
		PushType:     q.pushType,
		Retries:      q.retries,
		RetriesDelay: q.retriesDelay,
		ErrorQueue:   q.errorQueue,
	}
	for _, sub := range q.subscribers {
		info.Subscribers = append(info.Subscribers, sub.URL)
		info.Headers = append(info.Headers, sub.Headers)
	}
	return info, true
}

func (s *Server) queueNamesLocked() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
