// Package broadcast fans enriched event batches out to every live
// connection.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/agentroom/connections"
	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/pkg/worker"
)

// Delivery is the explicit outcome of one send attempt. The broadcaster
// branches on this value, never on error types: "gone" is expected
// churn, not a failure.
type Delivery int

const (
	// DeliveryOK means the frame reached the connection.
	DeliveryOK Delivery = iota
	// DeliveryGone means the peer is definitively unreachable; the
	// connection is pruned from the registry.
	DeliveryGone
	// DeliveryTransient means an ambiguous failure (timeout, temporary
	// transport error); the connection is retained and the next batch
	// retries naturally.
	DeliveryTransient
)

// String returns the metric label for the outcome.
func (d Delivery) String() string {
	switch d {
	case DeliveryOK:
		return "ok"
	case DeliveryGone:
		return "gone"
	case DeliveryTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Sender delivers one serialized frame to one connection. The context
// carries the per-delivery timeout.
type Sender interface {
	Send(ctx context.Context, connectionID string, payload []byte) Delivery
}

// Result summarizes one broadcast pass.
type Result struct {
	Attempted int // connections the pass tried to reach
	Delivered int // frames that arrived
	Pruned    int // gone connections removed from the registry
	Failed    int // transient failures, connection retained
}

const (
	defaultWorkers         = 16
	defaultQueueSize       = 256
	defaultDeliveryTimeout = 5 * time.Second
)

// Broadcaster delivers event batches to every active connection
// through a bounded worker pool, so one slow peer never blocks the
// rest of the room.
type Broadcaster struct {
	registry connections.Registry
	sender   Sender
	pool     *worker.Pool[deliveryTask]
	logger   *slog.Logger
	metrics  *metric.Metrics

	deliveryTimeout time.Duration
	workers         int
	queueSize       int
	metricsRegistry *metric.MetricsRegistry
}

// deliveryTask is one connection's share of a broadcast pass. The
// payload bytes are shared across the whole batch.
type deliveryTask struct {
	connID  string
	payload []byte
	collect *resultCollector
	wg      *sync.WaitGroup
}

// resultCollector accumulates per-delivery outcomes for one pass.
type resultCollector struct {
	mu        sync.Mutex
	delivered int
	failed    int
	gone      []string
}

func (rc *resultCollector) record(connID string, outcome Delivery) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	switch outcome {
	case DeliveryOK:
		rc.delivered++
	case DeliveryGone:
		rc.gone = append(rc.gone, connID)
	case DeliveryTransient:
		rc.failed++
	}
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithDeliveryTimeout bounds each send attempt.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		b.deliveryTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger.With("component", "Broadcaster")
	}
}

// WithMetricsRegistry enables Prometheus metrics for deliveries and
// broadcast passes together with the pool's own worker metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(b *Broadcaster) {
		b.metricsRegistry = registry
		b.metrics = registry.CoreMetrics()
	}
}

// WithPoolSize overrides the delivery pool dimensions.
func WithPoolSize(workers, queueSize int) Option {
	return func(b *Broadcaster) {
		b.workers = workers
		b.queueSize = queueSize
	}
}

// NewBroadcaster wires a broadcaster over a registry and a sender.
func NewBroadcaster(registry connections.Registry, sender Sender, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		registry:        registry,
		sender:          sender,
		logger:          slog.Default().With("component", "Broadcaster"),
		deliveryTimeout: defaultDeliveryTimeout,
		workers:         defaultWorkers,
		queueSize:       defaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	var poolOpts []worker.Option[deliveryTask]
	if b.metricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[deliveryTask](b.metricsRegistry, "broadcast"))
	}
	b.pool = worker.NewPool(b.workers, b.queueSize, b.process, poolOpts...)

	return b
}

// Start launches the delivery workers.
func (b *Broadcaster) Start(ctx context.Context) error {
	return b.pool.Start(ctx)
}

// Stop drains in-flight deliveries, waiting up to timeout.
func (b *Broadcaster) Stop(timeout time.Duration) error {
	return b.pool.Stop(timeout)
}

// process is the pool worker body: one timed send, one recorded
// outcome.
func (b *Broadcaster) process(ctx context.Context, task deliveryTask) error {
	defer task.wg.Done()

	sendCtx, cancel := context.WithTimeout(ctx, b.deliveryTimeout)
	defer cancel()

	outcome := b.sender.Send(sendCtx, task.connID, task.payload)
	task.collect.record(task.connID, outcome)

	if b.metrics != nil {
		b.metrics.RecordDelivery(outcome.String())
	}
	if outcome == DeliveryTransient {
		b.logger.Warn("transient delivery failure, connection retained",
			"connectionId", task.connID)
	}
	return nil
}

// Broadcast serializes the batch once and delivers it to every active
// connection. Empty batches and empty rooms are no-op successes. The
// only error path is the registry listing itself: that fails the whole
// cycle so the caller can redeliver the batch.
func (b *Broadcaster) Broadcast(ctx context.Context, events []event.DisplayEvent) (Result, error) {
	if len(events) == 0 {
		return Result{}, nil
	}

	conns, err := b.registry.ListActive(ctx)
	if err != nil {
		return Result{}, errors.WrapTransient(err, "Broadcaster", "Broadcast", "list active connections")
	}
	if len(conns) == 0 {
		return Result{}, nil
	}

	payload, err := event.NewEnvelope(events).Marshal()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	collect := &resultCollector{}
	var wg sync.WaitGroup

	for _, conn := range conns {
		task := deliveryTask{
			connID:  conn.ID,
			payload: payload,
			collect: collect,
			wg:      &wg,
		}
		wg.Add(1)
		if err := b.pool.Submit(task); err != nil {
			// Queue saturated or pool shutting down: deliver inline
			// rather than drop
			_ = b.process(ctx, task)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Shutdown mid-pass. The pool drains what was queued, so this
		// pass's goroutine still finishes; the batch is reported as a
		// cycle failure so the feed redelivers it.
		return Result{}, errors.WrapTransient(ctx.Err(), "Broadcaster", "Broadcast",
			"cancelled with deliveries in flight")
	}

	collect.mu.Lock()
	result := Result{
		Attempted: len(conns),
		Delivered: collect.delivered,
		Failed:    collect.failed,
		Pruned:    len(collect.gone),
	}
	gone := collect.gone
	collect.mu.Unlock()

	b.prune(ctx, gone)

	if b.metrics != nil {
		b.metrics.RecordBatch(len(events))
		b.metrics.RecordBroadcast(result.Attempted, result.Pruned, time.Since(start))
	}

	b.logger.Debug("broadcast complete",
		"events", len(events),
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"pruned", result.Pruned,
		"failed", result.Failed,
		"duration", time.Since(start))

	return result, nil
}

// prune removes gone connections. Best effort: a failed unregister is
// logged and left for the registry TTL to collect.
func (b *Broadcaster) prune(ctx context.Context, gone []string) {
	for _, id := range gone {
		if err := b.registry.Unregister(ctx, id); err != nil {
			b.logger.Warn("failed to prune gone connection, TTL will collect it",
				"connectionId", id, "error", err)
		}
	}
}
