// Package pipeline wires the stages of the activity broadcast service
// together: a runner that owns component lifecycle ordering, and the
// changefeed batch handler that carries records through filtering,
// enrichment, and fan-out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/agentroom/component"
	"github.com/c360/agentroom/errors"
)

// Runner starts components in registration order and stops them in
// reverse, so producers go down before the consumers they feed.
type Runner struct {
	logger *slog.Logger

	mu      sync.Mutex
	managed []*component.ManagedComponent
	names   []string
	started bool
}

// NewRunner creates an empty runner. Components are added with Add and
// started together with Start.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger.With("component", "pipeline"),
	}
}

// Add registers a component. Registration order is start order.
func (r *Runner) Add(name string, c component.Discoverable) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.managed = append(r.managed, &component.ManagedComponent{
		Component:  c,
		State:      component.StateCreated,
		StartOrder: len(r.managed),
	})
	r.names = append(r.names, name)
}

// Components returns the registered components in start order, for the
// gateway's health aggregation.
func (r *Runner) Components() []component.Discoverable {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]component.Discoverable, len(r.managed))
	for i, m := range r.managed {
		out[i] = m.Component
	}
	return out
}

// Start initializes and starts every component in registration order.
// On failure it stops the components already started, in reverse, and
// returns the original error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.NewInvalid("Runner", "Start", "pipeline already started")
	}

	for i, m := range r.managed {
		name := r.names[i]
		lc, ok := component.AsLifecycleComponent(m.Component)
		if !ok {
			m.State = component.StateStarted
			continue
		}

		if err := lc.Initialize(); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			r.stopStartedLocked(i, 10*time.Second)
			return errors.Wrap(err, "Runner", "Start", fmt.Sprintf("initialize %s", name))
		}
		m.State = component.StateInitialized

		childCtx, cancel := context.WithCancel(ctx)
		m.Context = childCtx
		m.Cancel = cancel

		if err := lc.Start(childCtx); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			cancel()
			r.stopStartedLocked(i, 10*time.Second)
			return errors.Wrap(err, "Runner", "Start", fmt.Sprintf("start %s", name))
		}
		m.State = component.StateStarted
		r.logger.Info("component started", "name", name, "order", m.StartOrder)
	}

	r.started = true
	return nil
}

// Stop shuts the pipeline down in reverse start order. Each component
// gets the time remaining from the shared deadline; errors are collected
// rather than aborting the sweep so every component gets its Stop call.
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false

	err := r.stopStartedLocked(len(r.managed), timeout)
	return err
}

func (r *Runner) stopStartedLocked(upto int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var firstErr error
	for i := upto - 1; i >= 0; i-- {
		m := r.managed[i]
		if m.State != component.StateStarted {
			continue
		}

		remaining := time.Until(deadline)
		if remaining < time.Second {
			remaining = time.Second
		}

		if m.Cancel != nil {
			m.Cancel()
		}
		if lc, ok := component.AsLifecycleComponent(m.Component); ok {
			if err := lc.Stop(remaining); err != nil {
				m.State = component.StateFailed
				m.LastError = err
				r.logger.Error("component stop failed", "name", r.names[i], "error", err)
				if firstErr == nil {
					firstErr = errors.Wrap(err, "Runner", "Stop", fmt.Sprintf("stop %s", r.names[i]))
				}
				continue
			}
		}
		m.State = component.StateStopped
		r.logger.Info("component stopped", "name", r.names[i])
	}
	return firstErr
}
