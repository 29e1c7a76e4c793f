// Package config defines the service configuration tree and its loader.
//
// Configuration is resolved in three layers: built-in defaults, an
// optional JSON file, then AGENTROOM_* environment overrides. The merged
// result is validated once up front; duration fields are held as strings
// and parsed during Validate, so the typed accessors (TTL, BatchWait,
// DeliveryTimeout) are only meaningful after a successful Validate.
package config
