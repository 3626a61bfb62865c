package fakemq

import (
	"time"

	"github.com/guestful/ironmq/internal/id"
)

type subscriber struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type message struct {
	id            string
	body          string
	timeout       int
	availableAt   time.Time
	expiresAt     time.Time
	reservedUntil time.Time
	reserved      int
}

type queue struct {
	name         string
	pushType     string
	retries      int
	retriesDelay int
	errorQueue   string
	subscribers  []subscriber
	messages     []*message
	total        int64
}

func newQueue(name string) *queue {
	return &queue{name: name, pushType: "pull"}
}

// visible reports whether m can be handed out at now.
func (m *message) visible(now time.Time) bool {
	return !now.Before(m.availableAt) && !now.Before(m.reservedUntil)
}

// expire drops messages past their expiration.
func (q *queue) expire(now time.Time) {
	kept := q.messages[:0]
	for _, m := range q.messages {
		if m.expiresAt.IsZero() || now.Before(m.expiresAt) {
			kept = append(kept, m)
		}
	}
	q.messages = kept
}

func (q *queue) size(now time.Time) int {
	q.expire(now)
	return len(q.messages)
}

func (q *queue) put(body string, timeout, delay, expiresIn int, now time.Time) string {
	m := &message{
		id:          id.MustNew(),
		body:        body,
		timeout:     timeout,
		availableAt: now.Add(time.Duration(delay) * time.Second),
	}
	if expiresIn > 0 {
		m.expiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}
	q.messages = append(q.messages, m)
	q.total++
	return m.id
}

// reserve hands out the oldest visible message, or nil.
func (q *queue) reserve(timeout int, del bool, now time.Time) *message {
	q.expire(now)
	for i, m := range q.messages {
		if !m.visible(now) {
			continue
		}
		if timeout <= 0 {
			timeout = m.timeout
		}
		m.reserved++
		m.reservedUntil = now.Add(time.Duration(timeout) * time.Second)
		if del {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
		}
		return m
	}
	return nil
}

func (q *queue) find(msgID string) (int, *message) {
	for i, m := range q.messages {
		if m.id == msgID {
			return i, m
		}
	}
	return -1, nil
}

func (q *queue) remove(msgID string) bool {
	i, _ := q.find(msgID)
	if i < 0 {
		return false
	}
	q.messages = append(q.messages[:i], q.messages[i+1:]...)
	return true
}
