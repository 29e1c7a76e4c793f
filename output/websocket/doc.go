// Package websocket hosts the subscriber-facing transport for the
// activity feed.
//
// A subscriber opens GET /ws?userId=<id>. The server upgrades the
// connection, assigns it a UUID, registers it in the connection
// registry, and replies with a connection_ack frame carrying the ID.
// After the ack the channel is push-only: the server broadcasts event
// frames, the client sends nothing but control frames.
//
// The server implements broadcast.Sender. Delivery outcomes map local
// socket state to the broadcaster's contract: a registry ID with no
// local socket is gone, a closed socket is gone, a write timeout is
// transient.
//
// Disconnects are detected three ways: the read loop returning, a
// failed write during broadcast, and the periodic ping sweep. All
// three funnel into the same idempotent teardown that removes the
// socket and unregisters the connection.
package websocket
