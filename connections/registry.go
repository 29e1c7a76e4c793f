package connections

import (
	"context"
)

// Connection is one live subscriber of the room. ConnectedAt and
// ExpiresAt are Unix milliseconds.
type Connection struct {
	ID          string `json:"id"`
	UserID      string `json:"userId,omitempty"`
	ConnectedAt int64  `json:"connectedAt"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// Active reports whether the connection has not yet expired at the
// given instant (Unix millis).
func (c Connection) Active(nowMs int64) bool {
	return c.ExpiresAt > nowMs
}

// Registry tracks live connections. Implementations must be safe for
// concurrent use: broadcasts list while transports register and
// unregister.
//
// Register is an idempotent upsert: re-registering an existing id
// refreshes its ExpiresAt but keeps the original ConnectedAt.
// Unregister of an absent id is not an error. ListActive returns only
// connections whose ExpiresAt is in the future; entries past their TTL
// are treated as absent even if storage still holds them.
type Registry interface {
	Register(ctx context.Context, id, userID string) (Connection, error)
	Unregister(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]Connection, error)
}
