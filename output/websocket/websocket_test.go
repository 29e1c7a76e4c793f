package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentroom/component"
	"github.com/c360/agentroom/connections"
	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/output/broadcast"
)

func startTestServer(t *testing.T, registry connections.Registry) *Server {
	t.Helper()
	cfg := DefaultConstructorConfig()
	cfg.Port = 0 // random port
	cfg.Registry = registry
	srv := NewServer(cfg)
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Stop(2 * time.Second)
	})
	return srv
}

func dial(t *testing.T, srv *Server, userID string) (*gorilla.Conn, string) {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", srv.Port())
	if userID != "" {
		url += "?userId=" + userID
	}
	conn, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	// First frame is always the ack carrying the connection ID.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ack struct {
		Type         string `json:"type"`
		ConnectionID string `json:"connectionId"`
		Timestamp    int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &ack))
	assert.Equal(t, "connection_ack", ack.Type)
	require.NotEmpty(t, ack.ConnectionID)
	assert.Positive(t, ack.Timestamp)

	return conn, ack.ConnectionID
}

func TestServer_InitializeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConstructorConfig)
	}{
		{"missing registry", func(cfg *ConstructorConfig) { cfg.Registry = nil }},
		{"empty path", func(cfg *ConstructorConfig) { cfg.Path = "" }},
		{"port out of range", func(cfg *ConstructorConfig) { cfg.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConstructorConfig()
			cfg.Registry = connections.NewMemoryRegistry()
			tt.mutate(&cfg)
			err := NewServer(cfg).Initialize()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestServer_ConnectRegistersAndAcks(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	_, connID := dial(t, srv, "user-42")

	active, err := registry.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, connID, active[0].ID)
	assert.Equal(t, "user-42", active[0].UserID)
	assert.Equal(t, 1, srv.ClientCount())
}

func TestServer_AnonymousConnect(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	_, _ = dial(t, srv, "")

	active, err := registry.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Empty(t, active[0].UserID)
}

func TestServer_SendDeliversFrame(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	conn, connID := dial(t, srv, "user-1")

	payload := []byte(`{"type":"agent_events","events":[]}`)
	outcome := srv.Send(context.Background(), connID, payload)
	assert.Equal(t, broadcast.DeliveryOK, outcome)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(data))
}

func TestServer_SendUnknownConnectionIsGone(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	outcome := srv.Send(context.Background(), "no-such-connection", []byte("{}"))
	assert.Equal(t, broadcast.DeliveryGone, outcome)
}

func TestServer_ClientCloseUnregisters(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	conn, connID := dial(t, srv, "user-1")
	require.NoError(t, conn.Close())

	// Teardown runs on the read loop goroutine.
	require.Eventually(t, func() bool {
		return srv.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	active, err := registry.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	outcome := srv.Send(context.Background(), connID, []byte("{}"))
	assert.Equal(t, broadcast.DeliveryGone, outcome)
}

func TestServer_MultipleClients(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	conns := make(map[string]*gorilla.Conn)
	for i := 0; i < 5; i++ {
		conn, connID := dial(t, srv, fmt.Sprintf("user-%d", i))
		conns[connID] = conn
	}
	assert.Equal(t, 5, srv.ClientCount())

	payload := []byte(`{"type":"agent_events","events":[]}`)
	for connID := range conns {
		assert.Equal(t, broadcast.DeliveryOK, srv.Send(context.Background(), connID, payload))
	}
	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, string(payload), string(data))
	}
}

func TestServer_StopClosesClients(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	cfg := DefaultConstructorConfig()
	cfg.Port = 0
	cfg.Registry = registry
	srv := NewServer(cfg)
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))

	conn, _ := dial(t, srv, "user-1")

	require.NoError(t, srv.Stop(2*time.Second))
	assert.Equal(t, 0, srv.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "socket should be closed after server stop")

	// Stop is idempotent.
	require.NoError(t, srv.Stop(time.Second))
}

func TestServer_StartIdempotent(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)
	require.NoError(t, srv.Start(context.Background()))
}

func TestServer_Lifecycle(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	cfg := DefaultConstructorConfig()
	cfg.Port = 0
	cfg.Registry = registry
	srv := NewServer(cfg)

	var _ component.LifecycleComponent = srv
	var _ broadcast.Sender = srv

	assert.False(t, srv.Health().Healthy, "not healthy before start")

	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	assert.True(t, srv.Health().Healthy)

	meta := srv.Meta()
	assert.Equal(t, "output", meta.Type)
	assert.Contains(t, meta.Name, "websocket-server")

	require.NoError(t, srv.Stop(2*time.Second))
	assert.False(t, srv.Health().Healthy)
}

func TestServer_DataFlow(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	conn, connID := dial(t, srv, "user-1")

	payload := []byte(`{"type":"agent_events","events":[]}`)
	require.Equal(t, broadcast.DeliveryOK, srv.Send(context.Background(), connID, payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	flow := srv.DataFlow()
	assert.Greater(t, flow.MessagesPerSecond, 0.0)
	assert.Greater(t, flow.BytesPerSecond, 0.0)
	assert.False(t, flow.LastActivity.IsZero())
}

func TestServer_Metrics(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	metricsRegistry := metric.NewMetricsRegistry()
	cfg := DefaultConstructorConfig()
	cfg.Port = 0
	cfg.Registry = registry
	cfg.MetricsRegistry = metricsRegistry
	srv := NewServer(cfg)
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })

	conn, connID := dial(t, srv, "user-1")
	require.Equal(t, broadcast.DeliveryOK,
		srv.Send(context.Background(), connID, []byte(`{"type":"agent_events","events":[]}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	families, err := metricsRegistry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["agentroom_websocket_clients_connected"])
	assert.True(t, names["agentroom_websocket_client_connections_total"])
	assert.True(t, names["agentroom_websocket_frames_sent_total"])
	assert.True(t, names["agentroom_websocket_bytes_sent_total"])
}

func TestServer_BroadcasterEndToEnd(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	srv := startTestServer(t, registry)

	b := broadcast.NewBroadcaster(registry, srv)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(2 * time.Second) })

	connA, _ := dial(t, srv, "user-a")
	connB, _ := dial(t, srv, "user-b")

	// A third registry entry with no local socket simulates a record
	// left behind by a previous instance; it gets pruned as gone.
	_, err := registry.Register(context.Background(), "stale-conn", "ghost")
	require.NoError(t, err)

	events := []event.DisplayEvent{{
		ID:        "s1#100",
		Timestamp: 1756700000000,
		Type:      event.TypeAgentActivity,
		AgentID:   "planner",
		AgentName: "Planejador",
		Action:    "task_planned",
		Message:   "task_planned",
	}}
	result, err := b.Broadcast(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 1, result.Pruned)

	for _, conn := range []*gorilla.Conn{connA, connB} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame struct {
			Type   string            `json:"type"`
			Events []json.RawMessage `json:"events"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, "agent_events", frame.Type)
		assert.Len(t, frame.Events, 1)
	}

	active, err := registry.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2, "stale record should be pruned")
}
