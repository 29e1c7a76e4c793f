// Package activity implements the filter and enrichment stages of the
// agent activity pipeline.
package activity

import (
	"strings"

	"github.com/c360/agentroom/event"
)

// agentNames maps feed actor ids to the labels the room UI shows.
// Unknown ids fall through to the raw id.
var agentNames = map[string]string{
	"learning":  "Memoria",
	"intake":    "Triagem",
	"planner":   "Planejador",
	"scheduler": "Agenda",
	"support":   "Atendimento",
	"billing":   "Cobranca",
}

// systemName labels events with no actor id.
const systemName = "Sistema"

// hilPendingStatus is the only status the pipeline ever emits; decisions
// resolve through a separate path, not the activity feed.
const hilPendingStatus = "pending"

// Accept reports whether a feed record belongs in the room. Only newly
// appended agent records pass; everything else is dropped silently,
// this is expected high-volume filtering, not an error path.
func Accept(rec *event.RawRecord) bool {
	if rec == nil {
		return false
	}
	return rec.ActorType == event.ActorAgent && rec.IsInsert()
}

// Enrich projects an accepted record into its subscriber-facing form.
// It is pure and deterministic: the same record always yields the same
// event. Returns false for malformed records (missing sortKey or
// action); callers skip those and count them, redelivery cannot fix
// them.
func Enrich(rec *event.RawRecord) (event.DisplayEvent, bool) {
	if rec == nil || rec.SortKey == "" || rec.Action == "" {
		return event.DisplayEvent{}, false
	}

	evt := event.DisplayEvent{
		ID:        rec.SortKey,
		Timestamp: rec.Timestamp,
		Type:      classify(rec),
		AgentID:   rec.ActorID,
		AgentName: AgentName(rec.ActorID),
		Action:    rec.Action,
		Message:   resolveMessage(rec),
		SessionID: rec.SessionID,
	}

	if target, ok := rec.DetailString("targetAgent"); ok {
		evt.TargetAgent = target
		evt.TargetAgentName = AgentName(target)
	}

	if taskID, ok := rec.DetailString("hilTaskId"); ok {
		evt.HILTaskID = taskID
		evt.HILStatus = hilPendingStatus
		if question, ok := rec.DetailString("hilQuestion"); ok {
			evt.HILQuestion = question
		}
		evt.HILOptions = detailStrings(rec, "hilOptions")
	}

	return evt, true
}

// AgentName resolves an actor id to its display label.
func AgentName(agentID string) string {
	if agentID == "" {
		return systemName
	}
	if name, ok := agentNames[agentID]; ok {
		return name
	}
	return agentID
}

// classify picks the display type. Priority order matters: a delegation
// with an error-looking action is still a delegation.
func classify(rec *event.RawRecord) string {
	if _, ok := rec.DetailString("targetAgent"); ok {
		return event.TypeA2ADelegation
	}

	action := strings.ToLower(rec.Action)
	switch action {
	case "erro", "error":
		return event.TypeError
	}

	if strings.Contains(action, "hil") {
		return event.TypeHILDecision
	}
	if _, ok := rec.DetailString("hilTaskId"); ok {
		return event.TypeHILDecision
	}

	switch action {
	case "started", "iniciado":
		return event.TypeSessionStart
	case "completed", "concluido":
		return event.TypeSessionEnd
	}

	return event.TypeAgentActivity
}

// resolveMessage prefers the producer-supplied message, falling back to
// the action verb so the UI never renders an empty line.
func resolveMessage(rec *event.RawRecord) string {
	if msg, ok := rec.DetailString("message"); ok {
		return msg
	}
	return rec.Action
}

// detailStrings extracts a string slice from details, tolerating the
// []any shape json.Unmarshal produces. Non-string elements are skipped.
func detailStrings(rec *event.RawRecord, key string) []string {
	if rec.Details == nil {
		return nil
	}

	raw, ok := rec.Details[key].([]any)
	if !ok {
		return nil
	}

	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
