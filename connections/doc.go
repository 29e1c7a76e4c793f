// Package connections tracks the live subscribers of the room.
//
// The Registry interface deliberately replaces the usual global table
// of live sockets: the broadcaster, the websocket server, and the
// pipeline all receive it injected, and every implementation is safe
// for concurrent use.
//
// Two implementations exist. KVRegistry stores records in a JetStream
// KV bucket whose TTL matches the connection TTL, so a crashed process
// leaves nothing behind: the server hard-deletes stale records, and
// ListActive filters on ExpiresAt for the window before that sweep.
// MemoryRegistry keeps the same contract in a mutex-guarded map with an
// injectable clock, for tests and single-node runs without JetStream.
//
// Listing is a full scan of the bucket. That is fine at the scale one
// room serves; past a few thousand concurrent connections the fan-out
// would want sharding instead.
package connections
