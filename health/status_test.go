package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/agentroom/component"
)

type fakeComponent struct {
	name    string
	healthy bool
	lastErr string
}

func (f *fakeComponent) Meta() component.Metadata {
	return component.Metadata{Name: f.name, Type: "test"}
}

func (f *fakeComponent) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:   f.healthy,
		LastError: f.lastErr,
		LastCheck: time.Now(),
		Uptime:    90 * time.Second,
	}
}

func (f *fakeComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"nats url", "dial nats://nats-1:4222 failed", "dial [URL] failed"},
		{"http url", "fetch https://internal.example.com/v1 failed", "fetch [URL] failed"},
		{"unix path", "open /etc/agentroom/creds failed", "open [PATH] failed"},
		{"ip and port", "connect 10.0.0.12:4222 refused", "connect [IP][PORT] refused"},
		{"credential", "auth failed: password=hunter2", "auth failed: [REDACTED]"},
		{"plain", "handler returned error", "handler returned error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestFromComponent(t *testing.T) {
	status := FromComponent(&fakeComponent{
		name:    "changefeed",
		healthy: false,
		lastErr: "fetch from nats://10.0.0.5:4222 timed out",
	})

	assert.False(t, status.Healthy)
	assert.Equal(t, "fetch from [URL] timed out", status.LastError)
	assert.Equal(t, "1m30s", status.Uptime)
	assert.WithinDuration(t, time.Now(), status.CheckedAt, time.Second)
}

func TestCollect(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		report := Collect([]component.Discoverable{
			&fakeComponent{name: "a", healthy: true},
			&fakeComponent{name: "b", healthy: true},
		})
		assert.True(t, report.Healthy)
		assert.Len(t, report.Components, 2)
	})

	t.Run("one unhealthy degrades the report", func(t *testing.T) {
		report := Collect([]component.Discoverable{
			&fakeComponent{name: "a", healthy: true},
			&fakeComponent{name: "b", healthy: false},
		})
		assert.False(t, report.Healthy)
		assert.True(t, report.Components["a"].Healthy)
		assert.False(t, report.Components["b"].Healthy)
	})

	t.Run("no components", func(t *testing.T) {
		report := Collect(nil)
		assert.True(t, report.Healthy)
		assert.Empty(t, report.Components)
	})
}
