// Package metric provides Prometheus metrics for the agentroom pipeline.
//
// # Overview
//
// The package wraps a private prometheus.Registry with the core pipeline
// metric set plus Go runtime collectors, and lets components register their
// own metrics through the MetricsRegistrar interface. The gateway exposes
// everything via Handler().
//
// # Core Metrics
//
// Core metrics cover the platform-level concerns every deployment needs:
//
//   - Change feed: records consumed/filtered/malformed, batch size
//   - Broadcast: deliveries by outcome, active connections, pruned
//     connections, fan-out duration
//   - Catch-up: query count and duration
//   - NATS: connection status, RTT, reconnects, circuit breaker state
//   - Service: status, health, errors
//
// Use the Record* helpers on Metrics rather than touching collectors
// directly so label conventions stay consistent.
//
// # Component Metrics
//
// Components register their own collectors under a service name:
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "agentroom",
//	    Subsystem: "websocket_output",
//	    Name:      "frames_sent_total",
//	    Help:      "Total frames sent to subscribers",
//	})
//	if err := registry.RegisterCounter("websocket-output", "frames_sent_total", counter); err != nil {
//	    return err
//	}
//
// Duplicate registration (same service+metric key, or a prometheus-level
// name conflict) returns an Invalid classified error.
//
// # Naming
//
// All metrics use the "agentroom" namespace with a subsystem per concern.
// Counters end in _total, durations are seconds histograms.
package metric
