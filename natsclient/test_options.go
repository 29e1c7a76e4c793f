package natsclient

import "time"

// Timeout profiles for the test server. Pick the cheapest one that
// covers what the test actually touches.

// WithFastStartup shortens both timeouts for tests that only need a
// plain connection.
func WithFastStartup() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 2 * time.Second
		cfg.startTimeout = 10 * time.Second
	}
}

// WithMinimalFeatures disables JetStream and KV entirely. Pub/sub-only
// tests start fastest this way.
func WithMinimalFeatures() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = false
		cfg.kv = false
		cfg.timeout = 1 * time.Second
		cfg.startTimeout = 5 * time.Second
	}
}

// WithIntegrationDefaults is the profile for stream and consumer
// tests: JetStream on, generous startup window.
func WithIntegrationDefaults() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 5 * time.Second
		cfg.startTimeout = 30 * time.Second
		cfg.jetstream = true
	}
}

// WithE2EDefaults turns everything on for tests that run the whole
// feed-to-broadcast path against one server.
func WithE2EDefaults() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 10 * time.Second
		cfg.startTimeout = 60 * time.Second
		cfg.jetstream = true
		cfg.kv = true
	}
}
