// Package natsclient provides a robust NATS client with circuit breaker protection,
// automatic reconnection, and JetStream/KV support for the agent activity pipeline.
//
// The natsclient package wraps the standard NATS Go client with additional reliability
// features including circuit breaker pattern for failure protection, exponential backoff
// for reconnection, and proper context propagation throughout all operations. It is the
// foundation for all NATS communication in agentroom: the activity feed consumer, the
// catch-up query path, and the connection registry all run on it.
//
// # Core Features
//
// Circuit Breaker Pattern: Prevents cascading failures by failing fast after a threshold
// of consecutive failures (default: 5). The circuit opens to prevent further attempts,
// then gradually tests the connection with exponential backoff.
//
// Connection Lifecycle Management: Handles connection states automatically through the
// lifecycle: Disconnected → Connecting → Connected → Reconnecting → Connected. The client
// manages all transitions with configurable callbacks for state changes.
//
// JetStream Support: Streams, durable pull consumers, and ephemeral ordered consumers
// with proper error handling and circuit breaker integration. The activity feed uses a
// durable consumer for at-least-once delivery; catch-up queries use short-lived ordered
// consumers positioned by start time.
//
// KVStore Abstraction: High-level abstraction over NATS KV providing automatic CAS
// (Compare-And-Swap) retry logic, JSON helpers, and consistent error handling. The
// connection registry stores per-connection records in a TTL bucket through it.
//
// # Basic Usage
//
// Creating and connecting to NATS:
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
//	if err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	err = client.Connect(ctx)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	// Publish a message
//	err = client.Publish(ctx, "activity.events.public", []byte("message data"))
//
//	// Subscribe to messages
//	err = client.Subscribe(ctx, "activity.*", func(msgCtx context.Context, data []byte) {
//	    // Handle message with context (30s timeout per message)
//	    fmt.Printf("Received: %s\n", string(data))
//	})
//
// # Advanced Configuration
//
// Creating client with options:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithMaxReconnects(-1),  // Infinite reconnects
//	    natsclient.WithReconnectWait(2*time.Second),
//	    natsclient.WithCircuitBreakerThreshold(10),
//	    natsclient.WithDisconnectCallback(func(err error) {
//	        log.Printf("Disconnected: %v", err)
//	    }),
//	    natsclient.WithReconnectCallback(func() {
//	        log.Println("Reconnected successfully")
//	    }),
//	)
//
// # JetStream Operations
//
// Working with JetStream streams and consumers:
//
//	// Create or update a stream
//	stream, err := client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "ACTIVITY",
//	    Subjects: []string{"activity.>"},
//	})
//
//	// Publish to stream
//	err = client.PublishToStream(ctx, "activity.events.public", []byte(`{"actorId": "agent-planner"}`))
//
//	// Durable pull consumer for the feed
//	consumer, err := client.CreateConsumer(ctx, "ACTIVITY", jetstream.ConsumerConfig{
//	    Durable:   "activity_feed",
//	    AckPolicy: jetstream.AckExplicitPolicy,
//	})
//	batch, err := consumer.Fetch(64, jetstream.FetchMaxWait(5*time.Second))
//
//	// Ephemeral ordered consumer for catch-up reads
//	ordered, err := client.OrderedConsumer(ctx, "ACTIVITY", jetstream.OrderedConsumerConfig{
//	    DeliverPolicy: jetstream.DeliverByStartTimePolicy,
//	    OptStartTime:  &since,
//	})
//
// # Key-Value Store
//
// Using KVStore for connection tracking with atomic updates:
//
//	// Create or get KV bucket (TTL expires stale connections)
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket: "agentroom_connections",
//	    TTL:    24 * time.Hour,
//	})
//
//	// Create KVStore wrapper
//	kvStore := client.NewKVStore(bucket)
//
//	// Atomic JSON update with automatic CAS retry
//	err = kvStore.UpdateJSON(ctx, connID, func(record map[string]any) error {
//	    // This function may be called multiple times on conflict
//	    record["expiresAt"] = expiresAt
//	    return nil
//	})
//
// # Circuit Breaker Pattern
//
// The circuit breaker protects against cascading failures:
//
//	// Circuit states:
//	// - Closed: Normal operation, requests pass through
//	// - Open: Failures exceeded threshold, failing fast
//	// - Half-Open: Testing if system recovered
//
//	err := client.Connect(ctx)
//	if errors.Is(err, natsclient.ErrCircuitOpen) {
//	    // Circuit is open, back off before retrying
//	}
//
// # Health Monitoring
//
// The client runs a background health check that pings the server at a configurable
// interval. Health transitions invoke the OnHealthChange callback, which the pipeline
// components use to report degraded status.
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithHealthInterval(30*time.Second),
//	)
//	client.OnHealthChange(func(healthy bool) {
//	    // Update component health status
//	})
//
// # Testing
//
// The package ships a testcontainers-based helper for integration tests:
//
//	func TestWithRealNATS(t *testing.T) {
//	    tc := natsclient.NewTestClient(t, natsclient.WithKV())
//	    // tc.Client is a connected *natsclient.Client backed by a throwaway container
//	}
//
// Unit tests that only exercise state transitions work against a disconnected client
// and never touch the network.
package natsclient
