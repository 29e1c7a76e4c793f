package event

import (
	"encoding/json"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/pkg/timestamp"
)

// Actor types as they appear on the activity feed.
const (
	ActorAgent  = "AGENT"
	ActorUser   = "USER"
	ActorSystem = "SYSTEM"
)

// Feed operations. An absent op means insert: the feed is an append-only
// log and most sources never set the field.
const (
	OpInsert = "insert"
	OpModify = "modify"
	OpRemove = "remove"
)

// RawRecord is one record from the activity feed, decoded but not yet
// enriched. Records are immutable once decoded - the pipeline never
// writes back to the feed.
//
// The wire timestamp arrives in whatever encoding the producer used
// (epoch millis, epoch seconds, RFC3339, numeric string); DecodeRaw
// normalizes it to Unix milliseconds.
type RawRecord struct {
	PartitionKey string         `json:"partitionKey"`
	SortKey      string         `json:"sortKey"`
	Timestamp    int64          `json:"timestamp"`
	ActorType    string         `json:"actorType"`
	ActorID      string         `json:"actorId"`
	Action       string         `json:"action"`
	SessionID    string         `json:"sessionId,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Op           string         `json:"op,omitempty"`
}

// rawRecordWire mirrors RawRecord but leaves the timestamp untyped so
// producers may send millis, seconds, or RFC3339 strings.
type rawRecordWire struct {
	PartitionKey string         `json:"partitionKey"`
	SortKey      string         `json:"sortKey"`
	Timestamp    any            `json:"timestamp"`
	ActorType    string         `json:"actorType"`
	ActorID      string         `json:"actorId"`
	Action       string         `json:"action"`
	SessionID    string         `json:"sessionId"`
	Details      map[string]any `json:"details"`
	Op           string         `json:"op"`
}

// DecodeRaw parses a feed record from its wire form. Decode failures are
// classified Invalid: the bytes will not parse differently on redelivery,
// so callers skip and count rather than retry.
func DecodeRaw(data []byte) (*RawRecord, error) {
	var wire rawRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.WrapInvalid(err, "event", "DecodeRaw", "unmarshal record")
	}

	return &RawRecord{
		PartitionKey: wire.PartitionKey,
		SortKey:      wire.SortKey,
		Timestamp:    timestamp.Parse(wire.Timestamp),
		ActorType:    wire.ActorType,
		ActorID:      wire.ActorID,
		Action:       wire.Action,
		SessionID:    wire.SessionID,
		Details:      wire.Details,
		Op:           wire.Op,
	}, nil
}

// Validate checks the fields every feed record must carry. Optional
// fields (sessionId, details, op) are not checked.
func (r *RawRecord) Validate() error {
	switch {
	case r.PartitionKey == "":
		return errors.NewInvalid("event", "Validate", "partitionKey is required")
	case r.SortKey == "":
		return errors.NewInvalid("event", "Validate", "sortKey is required")
	case r.Timestamp == 0:
		return errors.NewInvalid("event", "Validate", "timestamp is required")
	case r.ActorType != ActorAgent && r.ActorType != ActorUser && r.ActorType != ActorSystem:
		return errors.NewInvalid("event", "Validate", "actorType must be AGENT, USER, or SYSTEM")
	case r.Action == "":
		return errors.NewInvalid("event", "Validate", "action is required")
	}
	return nil
}

// IsInsert reports whether this record is a newly appended fact. The
// feed is insert-only in the common case, so an absent op counts.
func (r *RawRecord) IsInsert() bool {
	return r.Op == "" || r.Op == OpInsert
}

// DetailString returns details[key] when it is a non-empty string.
func (r *RawRecord) DetailString(key string) (string, bool) {
	if r.Details == nil {
		return "", false
	}
	s, ok := r.Details[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
