package connections

import (
	"context"
	"sync"
	"time"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/pkg/timestamp"
)

// MemoryRegistry is a mutex-guarded in-process registry. Tests and
// single-node runs without JetStream use it; the interface contract is
// identical to KVRegistry, including TTL expiry on ListActive.
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[string]Connection
	ttl   time.Duration
	clock func() int64
}

// MemoryRegistryOption configures a MemoryRegistry.
type MemoryRegistryOption func(*MemoryRegistry)

// WithMemoryTTL overrides the connection TTL.
func WithMemoryTTL(ttl time.Duration) MemoryRegistryOption {
	return func(r *MemoryRegistry) {
		r.ttl = ttl
	}
}

// WithClock injects a clock returning Unix millis. Tests use this to
// step time past the TTL without sleeping.
func WithClock(clock func() int64) MemoryRegistryOption {
	return func(r *MemoryRegistry) {
		r.clock = clock
	}
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(opts ...MemoryRegistryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		conns: make(map[string]Connection),
		ttl:   DefaultTTL,
		clock: timestamp.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts a connection, keeping the original ConnectedAt on
// re-registration.
func (r *MemoryRegistry) Register(_ context.Context, id, userID string) (Connection, error) {
	if id == "" {
		return Connection{}, errors.NewInvalid("MemoryRegistry", "Register", "connection id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := r.clock()
	conn := Connection{
		ID:          id,
		UserID:      userID,
		ConnectedAt: nowMs,
		ExpiresAt:   timestamp.Add(nowMs, r.ttl),
	}

	if existing, ok := r.conns[id]; ok && existing.Active(nowMs) {
		conn.ConnectedAt = existing.ConnectedAt
	}

	r.conns[id] = conn
	return conn, nil
}

// Unregister removes a connection; absent ids are fine.
func (r *MemoryRegistry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return nil
}

// ListActive returns unexpired connections and drops expired entries
// while it holds the lock anyway.
func (r *MemoryRegistry) ListActive(_ context.Context) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := r.clock()
	active := make([]Connection, 0, len(r.conns))

	for id, conn := range r.conns {
		if !conn.Active(nowMs) {
			delete(r.conns, id)
			continue
		}
		active = append(active, conn)
	}

	return active, nil
}

// Len reports the number of stored records, expired or not. Test
// helper.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
