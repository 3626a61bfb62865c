package ironmq

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/guestful/ironmq/pkg/settings"
)

// reservedChars are the RFC 3986 reserved characters a queue name may not
// contain.
const reservedChars = "!*'();:@&=+$,/?#[]"

// QueueType selects how a queue delivers its messages.
type QueueType int

const (
	PullQueue QueueType = iota
	UnicastQueue
	MulticastQueue
)

func (t QueueType) String() string {
	switch t {
	case PullQueue:
		return "pull"
	case UnicastQueue:
		return "unicast"
	case MulticastQueue:
		return "multicast"
	default:
		return "unknown"
	}
}

// ParseQueueType is the inverse of QueueType.String.
func ParseQueueType(s string) (QueueType, error) {
	switch strings.ToLower(s) {
	case "pull":
		return PullQueue, nil
	case "unicast":
		return UnicastQueue, nil
	case "multicast":
		return MulticastQueue, nil
	}
	return 0, fmt.Errorf("ironmq: unknown queue type %q", s)
}

func (t QueueType) push() bool { return t == UnicastQueue || t == MulticastQueue }

// Project groups the queues of one IronMQ project.
type Project struct {
	client   *Client
	id       string
	token    string
	settings *settings.Settings
}

func (p *Project) ID() string      { return p.id }
func (p *Project) Token() string   { return p.token }
func (p *Project) Client() *Client { return p.client }
func (p *Project) String() string  { return p.id }

// Settings returns the project defaults used by every call that does not
// take explicit settings. Mutate it before sharing the project; per-call
// overrides go through Copy.
func (p *Project) Settings() *settings.Settings { return p.settings }

// request prefixes path with the project and adds the oauth token.
func (p *Project) request(ctx context.Context, s *settings.Settings, method, path string, query url.Values, body any) (*response, error) {
	q := make(url.Values, len(query)+1)
	for k, v := range query {
		q[k] = v
	}
	q.Set("oauth", p.token)
	return p.client.request(ctx, s, method, "projects/"+p.id+"/"+strings.TrimPrefix(path, "/"), q, body)
}

// Queues lists the queues of the project.
func (p *Project) Queues(ctx context.Context) ([]*Queue, error) {
	resp, err := p.request(ctx, p.settings, http.MethodGet, "queues", nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, newAPIError(resp)
	}
	var list []struct {
		Name string `json:"name"`
	}
	if err := resp.decode(&list); err != nil {
		return nil, err
	}
	out := make([]*Queue, 0, len(list))
	for _, e := range list {
		out = append(out, &Queue{project: p, name: e.Name})
	}
	return out, nil
}

// Queue returns a handle on an existing queue. No request is made.
func (p *Project) Queue(name string) (*Queue, error) {
	if err := validateQueueName(name); err != nil {
		return nil, err
	}
	return &Queue{project: p, name: name}, nil
}

// NewPullQueue creates or updates a pull queue.
func (p *Project) NewPullQueue(ctx context.Context, name string) (*Queue, error) {
	return p.NewQueue(ctx, name, PullQueue, nil, nil)
}

// NewUnicastQueue creates or updates a push queue that delivers each message
// to one subscriber.
func (p *Project) NewUnicastQueue(ctx context.Context, name string, subscribers ...Subscriber) (*Queue, error) {
	return p.NewQueue(ctx, name, UnicastQueue, subscribers, nil)
}

// NewMulticastQueue creates or updates a push queue that delivers each
// message to every subscriber.
func (p *Project) NewMulticastQueue(ctx context.Context, name string, subscribers ...Subscriber) (*Queue, error) {
	return p.NewQueue(ctx, name, MulticastQueue, subscribers, nil)
}

type createQueuePayload struct {
	PushType     string       `json:"push_type"`
	Retries      *int         `json:"retries,omitempty"`
	RetriesDelay *int         `json:"retries_delay,omitempty"`
	Subscribers  []Subscriber `json:"subscribers,omitempty"`
	ErrorQueue   string       `json:"error_queue,omitempty"`
}

// NewQueue creates or updates a queue. Push settings (retries, retry delay,
// error queue) are taken from s, or from the project settings when s is nil.
func (p *Project) NewQueue(ctx context.Context, name string, typ QueueType, subscribers []Subscriber, s *settings.Settings) (*Queue, error) {
	if err := validateQueueName(name); err != nil {
		return nil, err
	}
	if s == nil {
		s = p.settings
	}

	body := createQueuePayload{PushType: typ.String()}
	if typ.push() {
		retries := s.PushRetries()
		delay := int(s.PushRetryDelay().Seconds())
		body.Retries = &retries
		body.RetriesDelay = &delay
		body.Subscribers = subscribers
		if body.Subscribers == nil {
			body.Subscribers = []Subscriber{}
		}
		if eq, ok := s.ErrorQueueName(); ok {
			body.ErrorQueue = eq
		}
	}

	resp, err := p.request(ctx, s, http.MethodPost, "queues/"+url.PathEscape(name), nil, body)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, newAPIError(resp)
	}
	return &Queue{project: p, name: name}, nil
}

func validateQueueName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidQueueName)
	}
	if i := strings.IndexAny(name, reservedChars); i >= 0 {
		return fmt.Errorf("%w: %q contains %q, none of %s allowed", ErrInvalidQueueName, name, name[i], reservedChars)
	}
	return nil
}
