package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxConfigFileSize caps config files to guard against reading the
// wrong path by accident.
const maxConfigFileSize = 1 << 20

// Loader handles configuration loading with environment overrides
type Loader struct {
	envPrefix string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "AGENTROOM",
	}
}

// Load reads configuration from an optional JSON file, applies
// environment overrides, validates, and returns the result. An empty
// path loads defaults plus overrides.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_STREAM_NAME"); val != "" {
		cfg.Stream.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_CHANGEFEED_DURABLE"); val != "" {
		cfg.Changefeed.Durable = val
	}
	if val := os.Getenv(l.envPrefix + "_CONNECTIONS_BUCKET"); val != "" {
		cfg.Connections.Bucket = val
	}
	if val := os.Getenv(l.envPrefix + "_CONNECTIONS_TTL"); val != "" {
		cfg.Connections.TTLStr = val
	}
	if val := os.Getenv(l.envPrefix + "_WEBSOCKET_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.WebSocket.Port = port
		}
	}
	if val := os.Getenv(l.envPrefix + "_GATEWAY_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
}

// safeReadFile reads a config file with basic sanity limits
func safeReadFile(path string) ([]byte, error) {
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", clean)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%s exceeds maximum config size (%d bytes)", clean, maxConfigFileSize)
	}

	return os.ReadFile(clean)
}
