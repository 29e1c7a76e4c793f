package event

import (
	"encoding/json"

	"github.com/c360/agentroom/errors"
)

// Display event types. The set is closed: the room UI switches on it
// and silently drops frames with types it does not know.
const (
	TypeAgentActivity = "agent_activity"
	TypeHILDecision   = "hil_decision"
	TypeA2ADelegation = "a2a_delegation"
	TypeError         = "error"
	TypeSessionStart  = "session_start"
	TypeSessionEnd    = "session_end"
)

// EnvelopeType is the outbound frame discriminator.
const EnvelopeType = "agent_events"

// DisplayEvent is the enriched, subscriber-facing projection of a feed
// record. HIL fields are populated only for hil_decision events; target
// fields only for a2a_delegation.
type DisplayEvent struct {
	ID              string   `json:"id"`
	Timestamp       int64    `json:"timestamp"`
	Type            string   `json:"type"`
	AgentID         string   `json:"agentId"`
	AgentName       string   `json:"agentName"`
	Action          string   `json:"action"`
	Message         string   `json:"message"`
	SessionID       string   `json:"sessionId,omitempty"`
	TargetAgent     string   `json:"targetAgent,omitempty"`
	TargetAgentName string   `json:"targetAgentName,omitempty"`
	HILTaskID       string   `json:"hilTaskId,omitempty"`
	HILStatus       string   `json:"hilStatus,omitempty"`
	HILQuestion     string   `json:"hilQuestion,omitempty"`
	HILOptions      []string `json:"hilOptions,omitempty"`
}

// Envelope is the single frame pushed to every subscriber for one
// broadcast batch.
type Envelope struct {
	Type   string         `json:"type"`
	Events []DisplayEvent `json:"events"`
}

// NewEnvelope wraps a batch of display events in the outbound frame.
func NewEnvelope(events []DisplayEvent) Envelope {
	return Envelope{Type: EnvelopeType, Events: events}
}

// Marshal serializes the envelope. The broadcaster calls this once per
// batch and reuses the bytes for every connection.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "event", "Marshal", "serialize envelope")
	}
	return data, nil
}
