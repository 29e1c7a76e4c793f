// Package gateway defines the shared types of the query surface: the
// gateway configuration and the parsed catch-up query parameters.
//
// The live feed reaches subscribers over WebSocket; the gateway exists
// for everything that is not live. A client that reconnects asks
// /api/events for what it missed, an operator asks /healthz and
// /metrics how the pipeline is doing. Protocol-specific servers live
// in subpackages (gateway/http).
package gateway
