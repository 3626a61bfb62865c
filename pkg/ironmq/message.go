package ironmq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Terminal states of a Message.
const (
	stateLive int32 = iota
	stateDeleted
	stateReleased
)

// Message is one reserved queue item. Its terminal state (deleted or
// released) is a single value, so the two are mutually exclusive.
type Message struct {
	queue    *Queue
	id       string
	body     json.RawMessage
	timeout  int
	reserved int
	state    atomic.Int32
}

func (m *Message) ID() string            { return m.id }
func (m *Message) Queue() *Queue         { return m.queue }
func (m *Message) Body() json.RawMessage { return m.body }

// Timeout is the reservation timeout captured when the message was polled.
// Touch extends the reservation by this amount.
func (m *Message) Timeout() time.Duration { return time.Duration(m.timeout) * time.Second }

// ReservedCount is how many times the service has handed the message out,
// this reservation included. It is 0 when the service does not report it.
func (m *Message) ReservedCount() int { return m.reserved }

func (m *Message) IsDeleted() bool  { return m.state.Load() == stateDeleted }
func (m *Message) IsReleased() bool { return m.state.Load() == stateReleased }

// Decode unmarshals the body into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.body, v)
}

func (m *Message) String() string { return m.id + " " + string(m.body) }

func (m *Message) terminalErr() error {
	switch m.state.Load() {
	case stateDeleted:
		return fmt.Errorf("%w: %s", ErrMessageDeleted, m.id)
	case stateReleased:
		return fmt.Errorf("%w: %s", ErrMessageReleased, m.id)
	}
	return nil
}

// Touch extends the reservation of the message by its Timeout.
func (m *Message) Touch(ctx context.Context) error {
	if err := m.terminalErr(); err != nil {
		return err
	}
	p := m.queue.project
	resp, err := p.request(ctx, p.settings, http.MethodPost, m.queue.msgPath(m.id)+"/touch", nil, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return newAPIError(resp)
	}
	return nil
}

// Release puts the message back on the queue after the project's default
// message delay.
func (m *Message) Release(ctx context.Context) error {
	return m.ReleaseAfter(ctx, m.queue.project.settings.MessageDelay())
}

// ReleaseAfter puts the message back on the queue after delay. Releasing a
// released or deleted message fails.
func (m *Message) ReleaseAfter(ctx context.Context, delay time.Duration) error {
	if err := m.terminalErr(); err != nil {
		return err
	}
	p := m.queue.project
	s := p.settings.Copy()
	if err := s.SetMessageDelay(delay); err != nil {
		return err
	}
	body := struct {
		Delay int `json:"delay"`
	}{int(s.MessageDelay().Seconds())}

	resp, err := p.request(ctx, s, http.MethodPost, m.queue.msgPath(m.id)+"/release", nil, body)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return newAPIError(resp)
	}
	if !m.state.CompareAndSwap(stateLive, stateReleased) {
		return m.terminalErr()
	}
	return nil
}

// Delete removes the message from the queue. It is idempotent: deleting a
// deleted message, or one the service no longer knows, succeeds.
func (m *Message) Delete(ctx context.Context) error {
	if m.state.Load() == stateDeleted {
		return nil
	}
	p := m.queue.project
	resp, err := p.request(ctx, p.settings, http.MethodDelete, m.queue.msgPath(m.id), nil, nil)
	if err != nil {
		return err
	}
	if !resp.ok() && resp.status != http.StatusNotFound {
		return newAPIError(resp)
	}
	m.state.Store(stateDeleted)
	return nil
}
