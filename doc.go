// Package agentroom is a real-time agent activity broadcast service.
//
// It consumes an append-only, partitioned activity feed from JetStream,
// filters it down to agent records, enriches them into display events,
// and fans each batch out to WebSocket subscribers. A TTL-backed
// connection registry (NATS KV) tracks subscribers across instances, and
// an HTTP gateway serves catch-up queries against the durable stream for
// clients that reconnect.
//
// # Architecture
//
//	┌────────────┐   ┌──────────────────────┐   ┌─────────────┐
//	│ changefeed │ → │ accept → enrich      │ → │ broadcaster │
//	│ (JetStream │   │ (processor/activity) │   │ (worker     │
//	│  durable)  │   └──────────────────────┘   │  pool)      │
//	└────────────┘                              └──────┬──────┘
//	                                                   │ frames
//	┌────────────┐   ┌──────────────────────┐   ┌──────▼──────┐
//	│  gateway   │   │ connection registry  │ ← │  websocket  │
//	│ /api/events│   │ (NATS KV, 24h TTL)   │   │   server    │
//	│ /healthz   │   └──────────────────────┘   └─────────────┘
//	└────────────┘
//
// The changefeed pulls batches from a durable consumer with
// at-least-once semantics; record-local failures are skipped and
// counted, batch-level failures nak for redelivery. The broadcaster
// serializes each batch once and delivers it concurrently, pruning
// connections whose sockets are gone. The registry's TTL collects
// entries for subscribers that vanish without unregistering.
//
// # Packages
//
// Pipeline:
//   - input/changefeed: durable pull consumer over the activity stream
//   - processor/activity: record filtering and enrichment
//   - output/broadcast: concurrent fan-out with pruning
//   - output/websocket: subscriber endpoint, implements broadcast.Sender
//   - connections: TTL connection registry (memory and NATS KV)
//   - pipeline: lifecycle runner and the batch handler
//
// Query surface:
//   - gateway, gateway/http: catch-up reads, health, metrics
//
// Infrastructure:
//   - natsclient: managed NATS connection (JetStream, KV, circuit breaker)
//   - component: lifecycle and discovery contracts
//   - config: layered configuration
//   - errors: classified error handling
//   - metric: Prometheus registry and core pipeline metrics
//   - health: sanitized health aggregation
//   - pkg/retry, pkg/timestamp, pkg/worker: utilities
package agentroom
