// Package worker provides a generic bounded worker pool.
//
// The broadcaster uses it to fan one serialized frame out to many
// WebSocket connections concurrently: each delivery is one work item,
// the queue bounds memory under fan-out spikes, and ErrQueueFull tells
// the caller to degrade (deliver inline) instead of dropping.
//
//	pool := worker.NewPool(16, 256, deliver,
//	    worker.WithMetricsRegistry[deliveryTask](registry, "broadcast"))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(task); errors.Is(err, worker.ErrQueueFull) {
//	    _ = deliver(ctx, task) // degrade to inline
//	}
//
// Stop closes the queue and drains in-flight items; cancelling the
// Start context aborts workers without draining.
package worker
