// Package webhook forwards consumed messages to an HTTP endpoint, the way a
// push queue delivers to its subscribers but driven by a local poller.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/guestful/ironmq/pkg/ironmq"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the
// Forwarder has a secret.
const SignatureHeader = "X-IronMQ-Signature"

// Payload is the JSON body POSTed to the endpoint.
type Payload struct {
	ID            string          `json:"id"`
	Project       string          `json:"project"`
	Queue         string          `json:"queue"`
	ReservedCount int             `json:"reserved_count"`
	Body          json.RawMessage `json:"body"`
}

// StatusError is returned when the endpoint answers outside 2xx.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: %s returned %d", e.URL, e.Code)
}

// Forwarder POSTs messages to one URL.
type Forwarder struct {
	url    string
	secret string
	client *http.Client
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithSecret signs every request body with secret.
func WithSecret(secret string) Option {
	return func(f *Forwarder) { f.secret = secret }
}

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// New returns a Forwarder for an absolute http or https URL.
func New(endpoint string, opts ...Option) (*Forwarder, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: url %q must be absolute http or https", endpoint)
	}
	f := &Forwarder{url: endpoint}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 10 * time.Second}
	}
	return f, nil
}

// URL returns the endpoint.
func (f *Forwarder) URL() string { return f.url }

// Consume delivers m. It has the signature of ironmq.Consumer, so a poller
// deletes the message only once the endpoint accepted it.
func (f *Forwarder) Consume(ctx context.Context, m *ironmq.Message) error {
	p := Payload{
		ID:            m.ID(),
		Queue:         m.Queue().Name(),
		Project:       m.Queue().Project().ID(),
		ReservedCount: m.ReservedCount(),
		Body:          m.Body(),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.secret != "" {
		req.Header.Set(SignatureHeader, Sign(f.secret, body))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: POST %s: %w", f.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: f.url, Code: resp.StatusCode}
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret. Receivers use
// it to authenticate deliveries.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
