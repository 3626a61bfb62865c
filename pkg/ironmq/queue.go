package ironmq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/guestful/ironmq/pkg/settings"
	"github.com/guestful/ironmq/pkg/workpool"
)

// Queue is a handle on a named queue of a Project. It holds no state beyond
// its name and is safe for concurrent use.
type Queue struct {
	project *Project
	name    string
}

func (q *Queue) Name() string      { return q.name }
func (q *Queue) Project() *Project { return q.project }
func (q *Queue) String() string    { return q.name }
func (q *Queue) path() string      { return "queues/" + url.PathEscape(q.name) }

func (q *Queue) msgPath(id string) string {
	return q.path() + "/messages/" + url.PathEscape(id)
}

// ─── Queue info ───────────────────────────────────────────────────────────────

type queueInfo struct {
	Size          int64 `json:"size"`
	TotalMessages int64 `json:"total_messages"`
}

func (q *Queue) info(ctx context.Context) (queueInfo, error) {
	var info queueInfo
	resp, err := q.project.request(ctx, q.project.settings, http.MethodGet, q.path(), nil, nil)
	if err != nil {
		return info, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return info, nil
	case !resp.ok():
		return info, newAPIError(resp)
	}
	err = resp.decode(&info)
	return info, err
}

// Size returns the number of messages currently on the queue. A queue that
// does not exist has size 0.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	info, err := q.info(ctx)
	return info.Size, err
}

// Count returns the number of messages ever put on the queue. A queue that
// does not exist has count 0.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	info, err := q.info(ctx)
	return info.TotalMessages, err
}

// Delete removes the queue and its messages. It reports false when the queue
// did not exist.
func (q *Queue) Delete(ctx context.Context) (bool, error) {
	resp, err := q.project.request(ctx, q.project.settings, http.MethodDelete, q.path(), nil, nil)
	if err != nil {
		return false, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return false, nil
	case !resp.ok():
		return false, newAPIError(resp)
	}
	return true, nil
}

// ─── Offer ────────────────────────────────────────────────────────────────────

type offerMessage struct {
	Body      string `json:"body"`
	Timeout   int    `json:"timeout"`
	Delay     int    `json:"delay"`
	ExpiresIn int    `json:"expires_in"`
}

// Offer puts one message per body on the queue with the project settings.
// Each body is JSON-encoded; pass json.RawMessage to send pre-encoded JSON.
// It returns the ids the service assigned, when it reports them.
func (q *Queue) Offer(ctx context.Context, bodies ...any) ([]string, error) {
	return q.OfferWith(ctx, q.project.settings, bodies...)
}

// OfferDelayed is Offer with the message delay overridden.
func (q *Queue) OfferDelayed(ctx context.Context, delay time.Duration, bodies ...any) ([]string, error) {
	s := q.project.settings.Copy()
	if err := s.SetMessageDelay(delay); err != nil {
		return nil, err
	}
	return q.OfferWith(ctx, s, bodies...)
}

// OfferWith puts messages on the queue with the timeout, delay and
// expiration of s.
func (q *Queue) OfferWith(ctx context.Context, s *settings.Settings, bodies ...any) ([]string, error) {
	if len(bodies) == 0 {
		return nil, nil
	}
	msgs := make([]offerMessage, len(bodies))
	for i, b := range bodies {
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("ironmq: encode message %d: %w", i, err)
		}
		msgs[i] = offerMessage{
			Body:      string(data),
			Timeout:   int(s.MessageTimeout().Seconds()),
			Delay:     int(s.MessageDelay().Seconds()),
			ExpiresIn: int(s.MessageExpiration().Seconds()),
		}
	}

	resp, err := q.project.request(ctx, s, http.MethodPost, q.path()+"/messages", nil,
		struct {
			Messages []offerMessage `json:"messages"`
		}{msgs})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("ironmq: offer %d message(s) to %s: %w", len(bodies), q.name, newAPIError(resp))
	}
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

// ─── Poll ─────────────────────────────────────────────────────────────────────

// Poll reserves at most one message with the project settings. It returns
// nil, nil when no message is available.
func (q *Queue) Poll(ctx context.Context) (*Message, error) {
	return q.PollWith(ctx, q.project.settings)
}

// PollWait is Poll with the long-poll wait overridden. wait must be within
// [0, settings.MaxWait].
func (q *Queue) PollWait(ctx context.Context, wait time.Duration) (*Message, error) {
	s := q.project.settings.Copy()
	if err := s.SetPollWait(wait); err != nil {
		return nil, err
	}
	return q.PollWith(ctx, s)
}

type envelope struct {
	ID            string `json:"id"`
	Body          string `json:"body"`
	Timeout       int    `json:"timeout"`
	ReservedCount int    `json:"reserved_count"`
}

// PollWith reserves at most one message. The service holds the request open
// for up to s.PollWait(). A 404 or an empty message list means no message.
func (q *Queue) PollWith(ctx context.Context, s *settings.Settings) (*Message, error) {
	query := url.Values{}
	query.Set("n", "1")
	query.Set("wait", strconv.Itoa(int(s.PollWait().Seconds())))
	query.Set("timeout", strconv.Itoa(int(s.MessageTimeout().Seconds())))
	query.Set("delete", strconv.FormatBool(s.PollDelete()))

	resp, err := q.project.request(ctx, s, http.MethodGet, q.path()+"/messages", query, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, nil
	case !resp.ok():
		return nil, newAPIError(resp)
	}

	var out struct {
		Messages []envelope `json:"messages"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	env := out.Messages[0]
	if !json.Valid([]byte(env.Body)) {
		return nil, fmt.Errorf("%w: message %s on %s", ErrMalformedMessage, env.ID, q.name)
	}
	return &Message{
		queue:    q,
		id:       env.ID,
		body:     json.RawMessage(env.Body),
		timeout:  env.Timeout,
		reserved: env.ReservedCount,
	}, nil
}

// AsyncPoll starts a Poller that feeds consumer from this queue, one message
// per tick, with ticks submitted to sched.
func (q *Queue) AsyncPoll(ctx context.Context, sched workpool.Scheduler, consumer Consumer, opts ...PollerOption) (*Poller, error) {
	return startPoller(ctx, q, sched, consumer, opts...)
}
