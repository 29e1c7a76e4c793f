package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/natsclient"
)

func validConfig() ConstructorConfig {
	cfg := DefaultConstructorConfig()
	cfg.Handler = func(context.Context, []Record) error { return nil }
	// NewClient does not dial; the connection is only needed at Start.
	client, err := natsclient.NewClient("nats://127.0.0.1:4222")
	if err != nil {
		panic(err)
	}
	cfg.NATSClient = client
	return cfg
}

func TestFeed_InitializeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConstructorConfig)
	}{
		{"missing nats client", func(cfg *ConstructorConfig) { cfg.NATSClient = nil }},
		{"missing handler", func(cfg *ConstructorConfig) { cfg.Handler = nil }},
		{"empty stream", func(cfg *ConstructorConfig) { cfg.Stream = "" }},
		{"empty durable", func(cfg *ConstructorConfig) { cfg.Durable = "" }},
		{"no subjects", func(cfg *ConstructorConfig) { cfg.Subjects = nil }},
		{"zero batch size", func(cfg *ConstructorConfig) { cfg.BatchSize = 0 }},
		{"zero batch wait", func(cfg *ConstructorConfig) { cfg.BatchWait = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := NewFeed(cfg).Initialize()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestFeed_InitializeValid(t *testing.T) {
	require.NoError(t, NewFeed(validConfig()).Initialize())
}

func TestFeed_Defaults(t *testing.T) {
	cfg := DefaultConstructorConfig()
	assert.Equal(t, "ACTIVITY", cfg.Stream)
	assert.Equal(t, []string{"activity.>"}, cfg.Subjects)
	assert.Equal(t, "activity_feed", cfg.Durable)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchWait)
	assert.Equal(t, 5, cfg.MaxDeliver)
}

func TestFeed_Meta(t *testing.T) {
	feed := NewFeed(validConfig())
	meta := feed.Meta()
	assert.Equal(t, "input", meta.Type)
	assert.Equal(t, "changefeed-activity_feed", meta.Name)

	cfg := validConfig()
	cfg.Name = "primary-feed"
	assert.Equal(t, "primary-feed", NewFeed(cfg).Meta().Name)
}

func TestFeed_HealthBeforeStart(t *testing.T) {
	feed := NewFeed(validConfig())
	health := feed.Health()
	assert.False(t, health.Healthy)
	assert.Zero(t, health.ErrorCount)
}

func TestFeed_StopBeforeStart(t *testing.T) {
	feed := NewFeed(validConfig())
	require.NoError(t, feed.Stop(time.Second))
}

func TestPartitionFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"activity.session-1", "session-1"},
		{"activity.room.42", "room.42"},
		{"activity.", "activity."},
		{"other.subject", "other.subject"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, partitionFromSubject(tt.subject), tt.subject)
	}
}
