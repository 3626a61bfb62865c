package backoff

import (
	"context"
	"errors"
	"fmt"
)

// Outcome is the retry decision for a single attempt.
type Outcome int

const (
	// Success is any response that is not a server error (1xx–3xx).
	Success Outcome = iota
	// ClientFailure is a 4xx response. It is returned to the caller as is
	// and never retried.
	ClientFailure
	// TransientFailure is a 5xx response or a transport error. It is retried
	// while the budget lasts.
	TransientFailure
	// TerminalFailure is an error that must never be retried: a Permanent
	// error, or any error once the caller's context is done.
	TerminalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ClientFailure:
		return "client_failure"
	case TransientFailure:
		return "transient_failure"
	case TerminalFailure:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// Result is anything that carries an HTTP status code.
type Result interface {
	Status() int
}

// Classify maps the result of one attempt made under ctx to an Outcome. When
// err is non-nil r is ignored.
//
// Whether an error is terminal depends on ctx and not on the error value: a
// per-attempt timeout of the HTTP client matches context.DeadlineExceeded
// but is still retried while ctx is live.
func Classify(ctx context.Context, r Result, err error) Outcome {
	if err != nil {
		if IsPermanent(err) || ctx.Err() != nil {
			return TerminalFailure
		}
		return TransientFailure
	}
	switch status := r.Status(); {
	case status >= 500:
		return TransientFailure
	case status >= 400:
		return ClientFailure
	default:
		return Success
	}
}

// permanentError marks an error as terminal for the executor.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Classify reports it as TerminalFailure.
// Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
