// Package component provides the component contract for the agentroom
// pipeline: lifecycle management and discovery metadata.
//
// # Overview
//
// The pipeline is a fixed chain (change feed input, filter/enrich stages,
// broadcast output, gateway), so components are wired statically by the
// runner rather than assembled from a registry. What remains shared is the
// contract every component honors:
//
//   - Discoverable: Meta(), Health(), DataFlow() for the health endpoint
//   - LifecycleComponent: Initialize(), Start(ctx), Stop(timeout)
//
// # Lifecycle Pattern
//
// All components follow the same three-phase lifecycle:
//
//	feed, err := changefeed.NewFeed(cfg)      // construct from a config struct
//	err = feed.Initialize()                   // create resources, no context
//	err = feed.Start(ctx)                     // spawn goroutines, context passed through
//	err = feed.Stop(5 * time.Second)          // graceful shutdown with timeout
//
// Components never store the context; the runner owns a named child context
// per component and cancels it on shutdown, in reverse start order.
//
// Constructors take per-component config structs whose optional fields
// degrade gracefully: a nil MetricsRegistry disables metrics, a nil Logger
// falls back to slog.Default().
package component
