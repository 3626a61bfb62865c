package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type code int

func (c code) Status() int { return int(c) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		r    Result
		err  error
		want Outcome
	}{
		{"200", code(200), nil, Success},
		{"204", code(204), nil, Success},
		{"304", code(304), nil, Success},
		{"400", code(400), nil, ClientFailure},
		{"404", code(404), nil, ClientFailure},
		{"429", code(429), nil, ClientFailure},
		{"500", code(500), nil, TransientFailure},
		{"503", code(503), nil, TransientFailure},
		{"transport error", nil, errors.New("dial tcp: refused"), TransientFailure},
		{"permanent", nil, Permanent(errors.New("encode")), TerminalFailure},
		{"wrapped permanent", nil, fmt.Errorf("outer: %w", Permanent(errors.New("x"))), TerminalFailure},
		{"attempt timeout", nil, fmt.Errorf("get: %w", context.DeadlineExceeded), TransientFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(context.Background(), tt.r, tt.err))
		})
	}
}

func TestClassify_DoneContextIsTerminal(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()

	assert.Equal(t, TerminalFailure, Classify(cancelled, nil, fmt.Errorf("get: %w", context.Canceled)))
	assert.Equal(t, TerminalFailure, Classify(expired, nil, context.DeadlineExceeded))
	assert.Equal(t, TerminalFailure, Classify(cancelled, nil, errors.New("dial tcp: refused")))
	assert.Equal(t, Success, Classify(cancelled, code(200), nil), "a response is classified by status")
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("plain")))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "client_failure", ClientFailure.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
