package settings_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestful/ironmq/pkg/settings"
)

func TestDefault_HasDocumentedValues(t *testing.T) {
	s := settings.Default()

	assert.Equal(t, 60*time.Second, s.MessageTimeout())
	assert.Equal(t, time.Duration(0), s.MessageDelay())
	assert.Equal(t, 604_800*time.Second, s.MessageExpiration())
	assert.Equal(t, time.Duration(0), s.PollWait())
	assert.False(t, s.PollDelete())
	assert.Equal(t, 3, s.PushRetries())
	assert.Equal(t, 60*time.Second, s.PushRetryDelay())
	assert.Equal(t, 5, s.BackoffRetries())
	assert.Equal(t, 10*time.Second, s.BackoffInterval())
	assert.Equal(t, 1.5, s.BackoffFactor())

	_, ok := s.ErrorQueueName()
	assert.False(t, ok, "error queue must be absent by default")
}

func TestSetters_RejectOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		set  func(s *settings.Settings) error
	}{
		{"timeout below min", func(s *settings.Settings) error { return s.SetMessageTimeout(29 * time.Second) }},
		{"timeout above max", func(s *settings.Settings) error { return s.SetMessageTimeout(86_401 * time.Second) }},
		{"negative delay", func(s *settings.Settings) error { return s.SetMessageDelay(-time.Second) }},
		{"delay above max", func(s *settings.Settings) error { return s.SetMessageDelay(8 * 24 * time.Hour) }},
		{"negative expiration", func(s *settings.Settings) error { return s.SetMessageExpiration(-time.Second) }},
		{"expiration above max", func(s *settings.Settings) error { return s.SetMessageExpiration(31 * 24 * time.Hour) }},
		{"poll wait above max", func(s *settings.Settings) error { return s.SetPollWait(31 * time.Second) }},
		{"negative poll wait", func(s *settings.Settings) error { return s.SetPollWait(-time.Millisecond) }},
		{"push retries above max", func(s *settings.Settings) error { return s.SetPushRetries(101) }},
		{"negative push retries", func(s *settings.Settings) error { return s.SetPushRetries(-1) }},
		{"push retry delay below min", func(s *settings.Settings) error { return s.SetPushRetryDelay(2 * time.Second) }},
		{"negative backoff retries", func(s *settings.Settings) error { return s.SetBackoffRetries(-1) }},
		{"negative backoff interval", func(s *settings.Settings) error { return s.SetBackoffInterval(-time.Second) }},
		{"backoff interval above max", func(s *settings.Settings) error { return s.SetBackoffInterval(25 * time.Hour) }},
		{"backoff factor below one", func(s *settings.Settings) error { return s.SetBackoffFactor(0.99) }},
		{"backoff factor NaN", func(s *settings.Settings) error { return s.SetBackoffFactor(math.NaN()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings.Default()
			before := *s

			err := tt.set(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, settings.ErrInvalidSetting), "want ErrInvalidSetting, got %v", err)
			assert.Equal(t, before, *s, "failed setter must not mutate")
		})
	}
}

func TestSetters_AcceptBounds(t *testing.T) {
	s := settings.Default()

	require.NoError(t, s.SetMessageTimeout(settings.MinTimeout))
	require.NoError(t, s.SetMessageTimeout(settings.MaxTimeout))
	require.NoError(t, s.SetMessageDelay(settings.MaxDelay))
	require.NoError(t, s.SetMessageExpiration(0))
	require.NoError(t, s.SetPollWait(settings.MaxWait))
	require.NoError(t, s.SetPushRetries(100))
	require.NoError(t, s.SetPushRetryDelay(3*time.Second))
	require.NoError(t, s.SetBackoffRetries(1_000))
	require.NoError(t, s.SetBackoffInterval(0))
	require.NoError(t, s.SetBackoffFactor(1.0))

	assert.Equal(t, 30*time.Second, s.PollWait())
	assert.Equal(t, 1_000, s.BackoffRetries())
}

func TestSetters_TruncateToSeconds(t *testing.T) {
	s := settings.Default()
	require.NoError(t, s.SetPollWait(2500*time.Millisecond))
	assert.Equal(t, 2*time.Second, s.PollWait())

	// 29.9s truncates to 29s which is below the minimum timeout.
	err := s.SetMessageTimeout(29900 * time.Millisecond)
	assert.ErrorIs(t, err, settings.ErrInvalidSetting)
}

func TestCopy_IsIndependent(t *testing.T) {
	orig := settings.Default()
	orig.SetErrorQueueName("errors")

	cp := orig.Copy()
	require.NoError(t, cp.SetPollWait(30*time.Second))
	require.NoError(t, cp.SetBackoffFactor(3))
	cp.SetErrorQueueName("")
	cp.SetPollDelete(true)

	assert.Equal(t, time.Duration(0), orig.PollWait())
	assert.Equal(t, 1.5, orig.BackoffFactor())
	assert.False(t, orig.PollDelete())
	name, ok := orig.ErrorQueueName()
	assert.True(t, ok)
	assert.Equal(t, "errors", name)

	require.NoError(t, orig.SetMessageDelay(time.Minute))
	assert.Equal(t, time.Duration(0), cp.MessageDelay())
}

func TestNew_AppliesOptionsAndStopsOnError(t *testing.T) {
	s, err := settings.New(
		settings.WithPollWait(20*time.Second),
		settings.WithBackoffRetries(2),
		settings.WithErrorQueueName("dead"),
	)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, s.PollWait())
	assert.Equal(t, 2, s.BackoffRetries())

	_, err = settings.New(settings.WithPushRetries(500))
	assert.ErrorIs(t, err, settings.ErrInvalidSetting)
}
