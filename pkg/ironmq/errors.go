package ironmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidQueueName is returned for an empty queue name or one that
	// contains an RFC 3986 reserved character.
	ErrInvalidQueueName = errors.New("ironmq: invalid queue name")

	// ErrMessageDeleted is returned when touching or releasing a deleted message.
	ErrMessageDeleted = errors.New("ironmq: message is deleted")

	// ErrMessageReleased is returned when touching or releasing a released message.
	ErrMessageReleased = errors.New("ironmq: message is released")

	// ErrMalformedMessage is returned by Poll when a message body is not JSON.
	ErrMalformedMessage = errors.New("ironmq: malformed message body")
)

// APIError is returned when the service answers with an unexpected status.
type APIError struct {
	StatusCode int    // HTTP status code
	Status     string // HTTP status text
	Message    string // "msg" field of the JSON response, or the raw body
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ironmq: server returned %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("ironmq: server returned %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsClientError reports whether err is a 4xx from the service.
func IsClientError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode >= 400 && ae.StatusCode < 500
}

func newAPIError(r *response) *APIError {
	e := &APIError{StatusCode: r.status, Status: http.StatusText(r.status)}
	var env struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(r.body, &env) == nil && env.Msg != "" {
		e.Message = env.Msg
	} else {
		e.Message = strings.TrimSpace(string(r.body))
	}
	return e
}
