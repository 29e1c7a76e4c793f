package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentroom/connections"
	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/input/changefeed"
	"github.com/c360/agentroom/output/broadcast"
)

type capturingSender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *capturingSender) Send(_ context.Context, _ string, payload []byte) broadcast.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return broadcast.DeliveryOK
}

func (s *capturingSender) frames(t *testing.T) []event.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Envelope, 0, len(s.payloads))
	for _, p := range s.payloads {
		var env event.Envelope
		require.NoError(t, json.Unmarshal(p, &env))
		out = append(out, env)
	}
	return out
}

func newTestHandler(t *testing.T) (changefeed.Handler, *capturingSender, *connections.MemoryRegistry) {
	t.Helper()
	registry := connections.NewMemoryRegistry()
	sender := &capturingSender{}
	b := broadcast.NewBroadcaster(registry, sender)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(2 * time.Second)
	})
	return NewActivityHandler(b, nil, nil), sender, registry
}

func agentRecord(subject, action string, ts int64) changefeed.Record {
	return changefeed.Record{
		Subject: subject,
		Data: []byte(`{
			"partitionKey": "session-1",
			"sortKey": "evt-1",
			"timestamp": ` + timeString(ts) + `,
			"actorType": "AGENT",
			"actorId": "learning",
			"action": "` + action + `"
		}`),
	}
}

func timeString(ts int64) string {
	return time.UnixMilli(ts).UTC().Format(`"2006-01-02T15:04:05.000Z"`)
}

func TestActivityHandler_BroadcastsAgentRecords(t *testing.T) {
	handler, sender, registry := newTestHandler(t)
	_, err := registry.Register(context.Background(), "conn-1", "user-1")
	require.NoError(t, err)

	err = handler(context.Background(), []changefeed.Record{
		agentRecord("activity.session-1", "started", 1000),
		agentRecord("activity.session-1", "completed", 2000),
	})
	require.NoError(t, err)

	frames := sender.frames(t)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Events, 2)
}

func TestActivityHandler_FiltersNonAgentRecords(t *testing.T) {
	handler, sender, registry := newTestHandler(t)
	_, err := registry.Register(context.Background(), "conn-1", "user-1")
	require.NoError(t, err)

	userRecord := changefeed.Record{
		Subject: "activity.session-1",
		Data: []byte(`{
			"partitionKey": "session-1",
			"sortKey": "evt-2",
			"timestamp": 1000,
			"actorType": "USER",
			"actorId": "alice",
			"action": "login"
		}`),
	}

	require.NoError(t, handler(context.Background(), []changefeed.Record{userRecord}))
	assert.Empty(t, sender.frames(t), "filtered batch must not reach the broadcaster")
}

func TestActivityHandler_SkipsMalformedRecords(t *testing.T) {
	handler, sender, registry := newTestHandler(t)
	_, err := registry.Register(context.Background(), "conn-1", "user-1")
	require.NoError(t, err)

	err = handler(context.Background(), []changefeed.Record{
		{Subject: "activity.session-1", Data: []byte(`{not json`)},
		agentRecord("activity.session-1", "started", 1000),
	})
	require.NoError(t, err, "malformed records are skipped, not retried")

	frames := sender.frames(t)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Events, 1)
}

func TestActivityHandler_EmptyBatch(t *testing.T) {
	handler, sender, _ := newTestHandler(t)
	require.NoError(t, handler(context.Background(), nil))
	assert.Empty(t, sender.frames(t))
}

func TestActivityHandler_RegistryFailurePropagates(t *testing.T) {
	sender := &capturingSender{}
	b := broadcast.NewBroadcaster(&failingRegistry{}, sender)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(2 * time.Second)
	})
	handler := NewActivityHandler(b, nil, nil)

	err := handler(context.Background(), []changefeed.Record{
		agentRecord("activity.session-1", "started", 1000),
	})
	require.Error(t, err, "registry failure must nak the batch")
}

// failingRegistry fails ListActive so Broadcast surfaces an error.
type failingRegistry struct{}

func (f *failingRegistry) Register(_ context.Context, id, userID string) (connections.Connection, error) {
	return connections.Connection{ID: id, UserID: userID}, nil
}

func (f *failingRegistry) Unregister(context.Context, string) error { return nil }

func (f *failingRegistry) ListActive(context.Context) ([]connections.Connection, error) {
	return nil, assert.AnError
}
