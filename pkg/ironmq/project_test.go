package ironmq_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestful/ironmq/pkg/ironmq"
	"github.com/guestful/ironmq/pkg/settings"
)

func TestProject_Queue_RejectsReservedCharacters(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"", "a/b", "a?b", "a#b", "a b!", "x:y", "q[1]", "a+b", "a&b"} {
		_, err := e.project.Queue(name)
		assert.ErrorIs(t, err, ironmq.ErrInvalidQueueName, "name %q", name)
	}
	q, err := e.project.Queue("orders-2024_v1.x")
	require.NoError(t, err)
	assert.Equal(t, "orders-2024_v1.x", q.Name())
	assert.Same(t, e.project, q.Project())
	assert.Empty(t, e.srv.Requests(), "Queue makes no request")
}

func TestProject_Queues(t *testing.T) {
	e := newEnv(t)
	e.srv.CreateQueue("b")
	e.srv.CreateQueue("a")

	qs, err := e.project.Queues(ctx())
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "a", qs[0].Name())
	assert.Equal(t, "b", qs[1].Name())
}

func TestProject_NewPullQueue(t *testing.T) {
	e := newEnv(t)
	q, err := e.project.NewPullQueue(ctx(), "jobs")
	require.NoError(t, err)
	assert.Equal(t, "jobs", q.Name())

	info, ok := e.srv.Queue("jobs")
	require.True(t, ok)
	assert.Equal(t, "pull", info.PushType)

	reqs := e.srv.Requests()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"push_type":"pull"}`, string(reqs[0].Body))
}

func TestProject_NewUnicastQueue_SendsPushSettings(t *testing.T) {
	e := newEnv(t)
	s, err := settings.New(
		settings.WithPushRetries(7),
		settings.WithPushRetryDelay(30*time.Second),
		settings.WithErrorQueueName("failed"),
	)
	require.NoError(t, err)

	sub := ironmq.NewSubscriber("https://example.com/hook").WithHeader("X-Token", "abc")
	_, err = e.project.NewQueue(ctx(), "hooks", ironmq.UnicastQueue, []ironmq.Subscriber{sub}, s)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(e.srv.Requests()[0].Body, &body))
	assert.Equal(t, "unicast", body["push_type"])
	assert.EqualValues(t, 7, body["retries"])
	assert.EqualValues(t, 30, body["retries_delay"])
	assert.Equal(t, "failed", body["error_queue"])

	info, ok := e.srv.Queue("hooks")
	require.True(t, ok)
	assert.Equal(t, []string{"https://example.com/hook"}, info.Subscribers)
	assert.Equal(t, "abc", info.Headers[0]["X-Token"])
	assert.Equal(t, 7, info.Retries)
}

func TestProject_NewMulticastQueue_ProjectDefaults(t *testing.T) {
	e := newEnv(t)
	_, err := e.project.NewMulticastQueue(ctx(), "fanout", ironmq.NewSubscriber("http://a"), ironmq.NewSubscriber("http://b"))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(e.srv.Requests()[0].Body, &body))
	assert.Equal(t, "multicast", body["push_type"])
	assert.EqualValues(t, settings.DefaultPushRetries, body["retries"])
	assert.EqualValues(t, 60, body["retries_delay"])
	assert.NotContains(t, body, "error_queue")
	subs := body["subscribers"].([]any)
	require.Len(t, subs, 2)
	assert.Equal(t, map[string]any{"url": "http://a", "headers": map[string]any{}}, subs[0])
}

func TestParseQueueType(t *testing.T) {
	for _, typ := range []ironmq.QueueType{ironmq.PullQueue, ironmq.UnicastQueue, ironmq.MulticastQueue} {
		got, err := ironmq.ParseQueueType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ironmq.ParseQueueType("broadcast")
	assert.Error(t, err)
}

func TestClient_ProjectWithSettings(t *testing.T) {
	e := newEnv(t)
	s, err := settings.New(settings.WithMessageDelay(5 * time.Second))
	require.NoError(t, err)

	p := e.client.ProjectWithSettings(projectID, token, s)
	assert.Equal(t, 5*time.Second, p.Settings().MessageDelay())
	assert.Equal(t, projectID, p.ID())
	assert.Equal(t, token, p.Token())
	assert.Same(t, e.client, p.Client())

	require.NoError(t, s.SetMessageDelay(0))
	assert.Equal(t, 5*time.Second, p.Settings().MessageDelay(), "project keeps its own copy")
}
