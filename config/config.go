// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/gateway"
)

// Config represents the complete application configuration.
type Config struct {
	Version     string            `json:"version,omitempty"`
	NATS        NATSConfig        `json:"nats"`
	Stream      StreamConfig      `json:"stream"`
	Changefeed  ChangefeedConfig  `json:"changefeed"`
	Connections ConnectionsConfig `json:"connections"`
	Broadcast   BroadcastConfig   `json:"broadcast"`
	WebSocket   WebSocketConfig   `json:"websocket"`
	Gateway     gateway.Config    `json:"gateway"`
	Log         LogConfig         `json:"log"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	ConnectWait   time.Duration `json:"connect_wait,omitempty"` // how long to wait for the first connection
}

// StreamConfig defines the durable activity stream.
type StreamConfig struct {
	Name     string   `json:"name,omitempty"`
	Subjects []string `json:"subjects,omitempty"`
	// MaxAgeStr bounds stream retention (e.g. "168h"). Empty means
	// server default.
	MaxAgeStr string `json:"max_age,omitempty"`

	maxAge time.Duration
}

// MaxAge returns the parsed retention bound, zero when unset.
func (s *StreamConfig) MaxAge() time.Duration {
	return s.maxAge
}

// ChangefeedConfig tunes the durable pull consumer.
type ChangefeedConfig struct {
	Durable      string `json:"durable,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	BatchWaitStr string `json:"batch_wait,omitempty"`
	MaxDeliver   int    `json:"max_deliver,omitempty"`
	AckWaitStr   string `json:"ack_wait,omitempty"`

	batchWait time.Duration
	ackWait   time.Duration
}

// BatchWait returns the parsed batching window.
func (c *ChangefeedConfig) BatchWait() time.Duration { return c.batchWait }

// AckWait returns the parsed redelivery window.
func (c *ChangefeedConfig) AckWait() time.Duration { return c.ackWait }

// ConnectionsConfig defines the connection registry bucket.
type ConnectionsConfig struct {
	Bucket string `json:"bucket,omitempty"`
	TTLStr string `json:"ttl,omitempty"`

	ttl time.Duration
}

// TTL returns the parsed connection lifetime.
func (c *ConnectionsConfig) TTL() time.Duration { return c.ttl }

// BroadcastConfig tunes the fan-out worker pool.
type BroadcastConfig struct {
	Workers            int    `json:"workers,omitempty"`
	QueueSize          int    `json:"queue_size,omitempty"`
	DeliveryTimeoutStr string `json:"delivery_timeout,omitempty"`

	deliveryTimeout time.Duration
}

// DeliveryTimeout returns the parsed per-send bound.
func (b *BroadcastConfig) DeliveryTimeout() time.Duration { return b.deliveryTimeout }

// WebSocketConfig defines the subscriber endpoint.
type WebSocketConfig struct {
	Port int    `json:"port,omitempty"`
	Path string `json:"path,omitempty"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text, json
}

// Defaults returns the configuration used when no file or override
// says otherwise.
func Defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			ConnectWait:   30 * time.Second,
		},
		Stream: StreamConfig{
			Name:     "ACTIVITY",
			Subjects: []string{"activity.>"},
		},
		Changefeed: ChangefeedConfig{
			Durable:      "activity_feed",
			BatchSize:    64,
			BatchWaitStr: "250ms",
			MaxDeliver:   5,
			AckWaitStr:   "30s",
		},
		Connections: ConnectionsConfig{
			Bucket: "agentroom_connections",
			TTLStr: "24h",
		},
		Broadcast: BroadcastConfig{
			Workers:            16,
			QueueSize:          256,
			DeliveryTimeoutStr: "5s",
		},
		WebSocket: WebSocketConfig{
			Port: 8081,
			Path: "/ws",
		},
		Gateway: gateway.Config{
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration and parses duration strings. It
// must run before the accessors are used.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"at least one NATS URL is required")
	}
	if c.Stream.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream name is required")
	}
	if len(c.Stream.Subjects) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream subjects are required")
	}
	if c.Changefeed.Durable == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"changefeed durable name is required")
	}
	if c.Changefeed.BatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid changefeed batch_size %d", c.Changefeed.BatchSize))
	}
	if c.Connections.Bucket == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"connections bucket is required")
	}
	if c.WebSocket.Port < 0 || c.WebSocket.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid websocket port %d", c.WebSocket.Port))
	}
	if c.WebSocket.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"websocket path is required")
	}
	if c.Broadcast.Workers <= 0 || c.Broadcast.QueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"broadcast workers and queue_size must be positive")
	}

	var err error
	if c.Stream.maxAge, err = parseOptionalDuration(c.Stream.MaxAgeStr, 0); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse stream max_age")
	}
	if c.Changefeed.batchWait, err = parseOptionalDuration(c.Changefeed.BatchWaitStr, 250*time.Millisecond); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse changefeed batch_wait")
	}
	if c.Changefeed.ackWait, err = parseOptionalDuration(c.Changefeed.AckWaitStr, 30*time.Second); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse changefeed ack_wait")
	}
	if c.Connections.ttl, err = parseOptionalDuration(c.Connections.TTLStr, 24*time.Hour); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse connections ttl")
	}
	if c.Connections.ttl <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"connections ttl must be positive")
	}
	if c.Broadcast.deliveryTimeout, err = parseOptionalDuration(c.Broadcast.DeliveryTimeoutStr, 5*time.Second); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse broadcast delivery_timeout")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	return c.Gateway.Validate()
}

func parseOptionalDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
