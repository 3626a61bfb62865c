package ironmq

import "encoding/json"

// Subscriber is an endpoint a push queue delivers messages to.
type Subscriber struct {
	URL     string
	Headers map[string]string
}

// NewSubscriber returns a Subscriber for url with no extra headers.
func NewSubscriber(url string) Subscriber {
	return Subscriber{URL: url}
}

// WithHeader returns a copy of s that also sends the given header.
func (s Subscriber) WithHeader(name, value string) Subscriber {
	h := make(map[string]string, len(s.Headers)+1)
	for k, v := range s.Headers {
		h[k] = v
	}
	h[name] = value
	s.Headers = h
	return s
}

func (s Subscriber) String() string { return s.URL }

// MarshalJSON always emits a headers object, empty when there are none.
func (s Subscriber) MarshalJSON() ([]byte, error) {
	h := s.Headers
	if h == nil {
		h = map[string]string{}
	}
	return json.Marshal(struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}{s.URL, h})
}

func (s *Subscriber) UnmarshalJSON(data []byte) error {
	var v struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.URL, s.Headers = v.URL, v.Headers
	return nil
}
