package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentroom/errors"
)

func TestDecodeRaw(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		data := []byte(`{
			"partitionKey": "2026-09-01",
			"sortKey": "evt-000123",
			"timestamp": 1756700000000,
			"actorType": "AGENT",
			"actorId": "learning",
			"action": "started",
			"sessionId": "sess-1",
			"details": {"message": "warming up"},
			"op": "insert"
		}`)

		rec, err := DecodeRaw(data)
		require.NoError(t, err)

		assert.Equal(t, "2026-09-01", rec.PartitionKey)
		assert.Equal(t, "evt-000123", rec.SortKey)
		assert.Equal(t, int64(1756700000000), rec.Timestamp)
		assert.Equal(t, ActorAgent, rec.ActorType)
		assert.Equal(t, "learning", rec.ActorID)
		assert.Equal(t, "started", rec.Action)
		assert.Equal(t, "sess-1", rec.SessionID)
		assert.Equal(t, "warming up", rec.Details["message"])
		assert.Equal(t, OpInsert, rec.Op)
	})

	t.Run("timestamp encodings normalize to millis", func(t *testing.T) {
		tests := []struct {
			name string
			raw  string
			want int64
		}{
			{"epoch millis", `1756700000000`, 1756700000000},
			{"epoch seconds", `1756700000`, 1756700000000},
			{"rfc3339", `"2025-09-01T06:13:20Z"`, 1756707200000},
			{"numeric string", `"1756700000000"`, 1756700000000},
			{"missing", `0`, 0},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				data := []byte(`{"partitionKey":"p","sortKey":"s","timestamp":` + tt.raw +
					`,"actorType":"AGENT","actorId":"a","action":"act"}`)
				rec, err := DecodeRaw(data)
				require.NoError(t, err)
				assert.Equal(t, tt.want, rec.Timestamp)
			})
		}
	})

	t.Run("malformed JSON is invalid", func(t *testing.T) {
		_, err := DecodeRaw([]byte(`{not json`))
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestRawRecord_Validate(t *testing.T) {
	valid := func() *RawRecord {
		return &RawRecord{
			PartitionKey: "2026-09-01",
			SortKey:      "evt-1",
			Timestamp:    1756700000000,
			ActorType:    ActorAgent,
			ActorID:      "planner",
			Action:       "working",
		}
	}

	t.Run("valid record passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*RawRecord)
	}{
		{"missing partitionKey", func(r *RawRecord) { r.PartitionKey = "" }},
		{"missing sortKey", func(r *RawRecord) { r.SortKey = "" }},
		{"missing timestamp", func(r *RawRecord) { r.Timestamp = 0 }},
		{"unknown actorType", func(r *RawRecord) { r.ActorType = "ROBOT" }},
		{"missing action", func(r *RawRecord) { r.Action = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			err := rec.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestRawRecord_IsInsert(t *testing.T) {
	tests := []struct {
		op   string
		want bool
	}{
		{"", true},
		{OpInsert, true},
		{OpModify, false},
		{OpRemove, false},
	}

	for _, tt := range tests {
		rec := &RawRecord{Op: tt.op}
		assert.Equal(t, tt.want, rec.IsInsert(), "op=%q", tt.op)
	}
}

func TestRawRecord_DetailString(t *testing.T) {
	rec := &RawRecord{Details: map[string]any{
		"targetAgent": "billing",
		"hilOptions":  []any{"yes", "no"},
		"count":       float64(3),
		"empty":       "",
	}}

	got, ok := rec.DetailString("targetAgent")
	assert.True(t, ok)
	assert.Equal(t, "billing", got)

	_, ok = rec.DetailString("hilOptions")
	assert.False(t, ok, "non-string values are not strings")

	_, ok = rec.DetailString("count")
	assert.False(t, ok)

	_, ok = rec.DetailString("empty")
	assert.False(t, ok, "empty strings count as absent")

	_, ok = rec.DetailString("missing")
	assert.False(t, ok)

	nilDetails := &RawRecord{}
	_, ok = nilDetails.DetailString("anything")
	assert.False(t, ok)
}
