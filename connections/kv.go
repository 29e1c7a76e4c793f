package connections

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/natsclient"
	"github.com/c360/agentroom/pkg/timestamp"
)

// DefaultTTL is how long a connection stays registered without being
// re-registered or explicitly removed.
const DefaultTTL = 24 * time.Hour

// DefaultBucket is the KV bucket holding connection records.
const DefaultBucket = "agentroom_connections"

// KVRegistry stores connections in a JetStream KV bucket. The bucket
// carries a TTL equal to the connection TTL, so records the process
// never got to unregister are hard-deleted by the server; ListActive
// additionally filters on ExpiresAt so an expired-but-present record
// is treated as absent in the window before the server sweep.
type KVRegistry struct {
	store  *natsclient.KVStore
	ttl    time.Duration
	logger *slog.Logger
}

// KVRegistryOption configures a KVRegistry.
type KVRegistryOption func(*KVRegistry)

// WithTTL overrides the connection TTL. The bucket TTL should match.
func WithTTL(ttl time.Duration) KVRegistryOption {
	return func(r *KVRegistry) {
		r.ttl = ttl
	}
}

// NewKVRegistry wraps an existing KV store. The bucket is expected to
// be created with a TTL matching the registry TTL:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket: connections.DefaultBucket,
//	    TTL:    connections.DefaultTTL,
//	})
//	registry := connections.NewKVRegistry(client.NewKVStore(bucket), logger)
func NewKVRegistry(store *natsclient.KVStore, logger *slog.Logger, opts ...KVRegistryOption) *KVRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &KVRegistry{
		store:  store,
		ttl:    DefaultTTL,
		logger: logger.With("component", "KVRegistry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts a connection. A fresh registration records
// ConnectedAt = now; re-registering an existing id keeps the original
// ConnectedAt and only pushes ExpiresAt forward. The CAS retry loop in
// the KV store absorbs races with concurrent registrations.
func (r *KVRegistry) Register(ctx context.Context, id, userID string) (Connection, error) {
	if id == "" {
		return Connection{}, errors.NewInvalid("KVRegistry", "Register", "connection id is required")
	}

	nowMs := timestamp.Now()
	conn := Connection{
		ID:          id,
		UserID:      userID,
		ConnectedAt: nowMs,
		ExpiresAt:   timestamp.Add(nowMs, r.ttl),
	}

	err := r.store.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if len(current) > 0 {
			var existing Connection
			if err := json.Unmarshal(current, &existing); err == nil && existing.ConnectedAt > 0 {
				conn.ConnectedAt = existing.ConnectedAt
			}
			// Corrupt records are overwritten with the fresh connection
		}
		return json.Marshal(conn)
	})
	if err != nil {
		return Connection{}, errors.WrapTransient(err, "KVRegistry", "Register", "store connection")
	}

	r.logger.Debug("connection registered",
		"connectionId", id,
		"userId", userID,
		"expiresAt", timestamp.Format(conn.ExpiresAt))
	return conn, nil
}

// Unregister removes a connection. Unknown ids are fine, the record
// may have expired or been pruned already.
func (r *KVRegistry) Unregister(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	err := r.store.Delete(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil
		}
		return errors.WrapTransient(err, "KVRegistry", "Unregister", "delete connection")
	}

	r.logger.Debug("connection unregistered", "connectionId", id)
	return nil
}

// ListActive returns every connection whose ExpiresAt is in the
// future. Records that fail to decode are skipped and logged; they
// will age out via the bucket TTL.
func (r *KVRegistry) ListActive(ctx context.Context) ([]Connection, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVRegistry", "ListActive", "list connection keys")
	}

	nowMs := timestamp.Now()
	active := make([]Connection, 0, len(keys))

	for _, key := range keys {
		entry, err := r.store.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				// Expired between list and get
				continue
			}
			return nil, errors.WrapTransient(err, "KVRegistry", "ListActive", "read connection")
		}

		var conn Connection
		if err := json.Unmarshal(entry.Value, &conn); err != nil {
			r.logger.Warn("skipping undecodable connection record", "key", key, "error", err)
			continue
		}

		if conn.Active(nowMs) {
			active = append(active, conn)
		}
	}

	return active, nil
}
