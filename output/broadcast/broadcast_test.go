package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentroom/connections"
	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/metric"
)

// scriptedSender returns a fixed outcome per connection ID and records
// every payload it was handed.
type scriptedSender struct {
	mu       sync.Mutex
	outcomes map[string]Delivery
	payloads map[string][]byte
	sends    int
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{
		outcomes: make(map[string]Delivery),
		payloads: make(map[string][]byte),
	}
}

func (s *scriptedSender) Send(_ context.Context, connectionID string, payload []byte) Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	s.payloads[connectionID] = payload
	if outcome, ok := s.outcomes[connectionID]; ok {
		return outcome
	}
	return DeliveryOK
}

func (s *scriptedSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

// failingRegistry always fails to list, on top of a working memory
// registry for the other operations.
type failingRegistry struct {
	*connections.MemoryRegistry
}

func (f *failingRegistry) ListActive(context.Context) ([]connections.Connection, error) {
	return nil, fmt.Errorf("kv bucket unavailable")
}

func testEvents(n int) []event.DisplayEvent {
	events := make([]event.DisplayEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, event.DisplayEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			Timestamp: 1756700000000 + int64(i),
			Type:      event.TypeAgentActivity,
			AgentID:   "planner",
			AgentName: "Planejador",
			Action:    "task_planned",
			Message:   "task_planned",
		})
	}
	return events
}

func newTestBroadcaster(t *testing.T, registry connections.Registry, sender Sender, opts ...Option) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(registry, sender, opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(2 * time.Second)
	})
	return b
}

func TestBroadcast_EmptyRoom(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	b := newTestBroadcaster(t, registry, sender)

	result, err := b.Broadcast(context.Background(), testEvents(3))
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 0, sender.sendCount())
}

func TestBroadcast_EmptyBatch(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	b := newTestBroadcaster(t, registry, sender)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("conn-%d", i), "")
		require.NoError(t, err)
	}

	result, err := b.Broadcast(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 0, sender.sendCount(), "no frames should go out for an empty batch")
}

func TestBroadcast_AllDelivered(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	b := newTestBroadcaster(t, registry, sender)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("conn-%d", i), "user-1")
		require.NoError(t, err)
	}

	result, err := b.Broadcast(ctx, testEvents(2))
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 4, Delivered: 4}, result)
}

func TestBroadcast_GonePruned(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	sender.outcomes["conn-2"] = DeliveryGone
	b := newTestBroadcaster(t, registry, sender)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("conn-%d", i), "")
		require.NoError(t, err)
	}

	result, err := b.Broadcast(ctx, testEvents(1))
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 5, Delivered: 4, Pruned: 1}, result)

	remaining, err := registry.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
	for _, conn := range remaining {
		assert.NotEqual(t, "conn-2", conn.ID)
	}
}

func TestBroadcast_TransientRetained(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	sender.outcomes["conn-1"] = DeliveryTransient
	b := newTestBroadcaster(t, registry, sender)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("conn-%d", i), "")
		require.NoError(t, err)
	}

	result, err := b.Broadcast(ctx, testEvents(1))
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 3, Delivered: 2, Failed: 1}, result)

	remaining, err := registry.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 3, "transient failures must not prune the connection")
}

func TestBroadcast_RegistryFailure(t *testing.T) {
	registry := &failingRegistry{MemoryRegistry: connections.NewMemoryRegistry()}
	sender := newScriptedSender()
	b := newTestBroadcaster(t, registry, sender)

	result, err := b.Broadcast(context.Background(), testEvents(1))
	require.Error(t, err)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 0, sender.sendCount())
}

func TestBroadcast_PayloadSerializedOnce(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	b := newTestBroadcaster(t, registry, sender)

	ctx := context.Background()
	_, err := registry.Register(ctx, "conn-a", "")
	require.NoError(t, err)
	_, err = registry.Register(ctx, "conn-b", "")
	require.NoError(t, err)

	_, err = b.Broadcast(ctx, testEvents(3))
	require.NoError(t, err)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.payloads, 2)
	assert.Equal(t, sender.payloads["conn-a"], sender.payloads["conn-b"],
		"all connections receive the identical frame")

	var envelope struct {
		Type   string            `json:"type"`
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(sender.payloads["conn-a"], &envelope))
	assert.Equal(t, event.EnvelopeType, envelope.Type)
	assert.Len(t, envelope.Events, 3)
}

func TestBroadcast_SlowDeliveryTimesOut(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	slow := &slowSender{delay: 200 * time.Millisecond}
	b := newTestBroadcaster(t, registry, slow,
		WithDeliveryTimeout(20*time.Millisecond))

	ctx := context.Background()
	_, err := registry.Register(ctx, "conn-slow", "")
	require.NoError(t, err)

	result, err := b.Broadcast(ctx, testEvents(1))
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 1, Failed: 1}, result)
}

// slowSender honors context cancellation the way a real transport would.
type slowSender struct {
	delay time.Duration
}

func (s *slowSender) Send(ctx context.Context, _ string, _ []byte) Delivery {
	select {
	case <-time.After(s.delay):
		return DeliveryOK
	case <-ctx.Done():
		return DeliveryTransient
	}
}

func TestBroadcast_AfterPoolShutdownDoesNotHang(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	b := NewBroadcaster(registry, sender)

	poolCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(poolCtx))
	t.Cleanup(func() { _ = b.Stop(2 * time.Second) })

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("conn-%d", i), "")
		require.NoError(t, err)
	}

	// Kill the delivery workers before the pass starts.
	cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := b.Broadcast(ctx, testEvents(1))
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		// Submissions fall back to inline delivery once the workers are
		// gone, so the pass still completes.
		require.NoError(t, out.err)
		assert.Equal(t, Result{Attempted: 4, Delivered: 4}, out.result)
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast did not return after the delivery pool shut down")
	}
}

// gatedSender blocks every send on an external gate, ignoring the
// delivery context entirely.
type gatedSender struct {
	gate chan struct{}
}

func (s *gatedSender) Send(context.Context, string, []byte) Delivery {
	<-s.gate
	return DeliveryOK
}

func TestBroadcast_CancelledMidFlight(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	gate := make(chan struct{})
	defer close(gate)
	b := newTestBroadcaster(t, registry, &gatedSender{gate: gate},
		WithDeliveryTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := registry.Register(ctx, "conn-0", "")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// The pass gives up when the context ends instead of waiting out a
	// stuck delivery; the error is transient so the batch redelivers.
	_, err = b.Broadcast(ctx, testEvents(1))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestBroadcast_ManyConnections(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	sender.outcomes["conn-7"] = DeliveryGone
	sender.outcomes["conn-13"] = DeliveryGone
	sender.outcomes["conn-21"] = DeliveryTransient
	b := newTestBroadcaster(t, registry, sender, WithPoolSize(4, 8))

	ctx := context.Background()
	const total = 50
	for i := 0; i < total; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("conn-%d", i), "")
		require.NoError(t, err)
	}

	result, err := b.Broadcast(ctx, testEvents(2))
	require.NoError(t, err)
	assert.Equal(t, total, result.Attempted)
	assert.Equal(t, total-3, result.Delivered)
	assert.Equal(t, 2, result.Pruned)
	assert.Equal(t, 1, result.Failed)

	remaining, err := registry.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, total-2)
}

func TestBroadcast_Metrics(t *testing.T) {
	registry := connections.NewMemoryRegistry()
	sender := newScriptedSender()
	sender.outcomes["conn-1"] = DeliveryGone

	metricsRegistry := metric.NewMetricsRegistry()
	b := newTestBroadcaster(t, registry, sender, WithMetricsRegistry(metricsRegistry))

	ctx := context.Background()
	_, err := registry.Register(ctx, "conn-0", "")
	require.NoError(t, err)
	_, err = registry.Register(ctx, "conn-1", "")
	require.NoError(t, err)

	_, err = b.Broadcast(ctx, testEvents(1))
	require.NoError(t, err)

	families, err := metricsRegistry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["agentroom_broadcast_deliveries_total"])
	assert.True(t, names["agentroom_broadcast_duration_seconds"])
}

func TestDelivery_String(t *testing.T) {
	tests := []struct {
		outcome Delivery
		want    string
	}{
		{DeliveryOK, "ok"},
		{DeliveryGone, "gone"},
		{DeliveryTransient, "transient"},
		{Delivery(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.outcome.String())
	}
}
