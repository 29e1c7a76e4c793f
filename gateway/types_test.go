package gateway

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentroom/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			config: Config{Port: 8080},
		},
		{
			name:   "port zero picks a random port",
			config: Config{Port: 0},
		},
		{
			name:    "port out of range",
			config:  Config{Port: 70000},
			wantErr: true,
		},
		{
			name:    "cors without origins",
			config:  Config{Port: 8080, EnableCORS: true},
			wantErr: true,
		},
		{
			name:   "cors with origins",
			config: Config{Port: 8080, EnableCORS: true, CORSOrigins: []string{"https://app.example.com"}},
		},
		{
			name:   "explicit query timeout",
			config: Config{Port: 8080, QueryTimeoutStr: "2s"},
		},
		{
			name:    "malformed query timeout",
			config:  Config{Port: 8080, QueryTimeoutStr: "fast"},
			wantErr: true,
		},
		{
			name:    "query timeout too long",
			config:  Config{Port: 8080, QueryTimeoutStr: "5m"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_QueryTimeoutDefault(t *testing.T) {
	cfg := Config{Port: 8080}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.QueryTimeout())
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    QueryParams
		wantErr bool
	}{
		{
			name:  "empty query uses defaults",
			query: "",
			want:  QueryParams{Limit: DefaultLimit},
		},
		{
			name:  "since as epoch milliseconds",
			query: "since=1756700000000",
			want:  QueryParams{Since: 1756700000000, Limit: DefaultLimit},
		},
		{
			name:  "since as RFC3339",
			query: "since=2025-09-01T06:13:20Z",
			want:  QueryParams{Since: 1756707200000, Limit: DefaultLimit},
		},
		{
			name:    "since garbage",
			query:   "since=yesterday",
			wantErr: true,
		},
		{
			name:  "session and agent filters",
			query: "sessionId=s1&agentId=planner",
			want:  QueryParams{SessionID: "s1", AgentID: "planner", Limit: DefaultLimit},
		},
		{
			name:  "hil only",
			query: "hilOnly=true",
			want:  QueryParams{HILOnly: true, Limit: DefaultLimit},
		},
		{
			name:    "hil only garbage",
			query:   "hilOnly=sim",
			wantErr: true,
		},
		{
			name:  "explicit limit",
			query: "limit=25",
			want:  QueryParams{Limit: 25},
		},
		{
			name:  "limit capped at max",
			query: "limit=5000",
			want:  QueryParams{Limit: MaxLimit},
		},
		{
			name:    "zero limit rejected",
			query:   "limit=0",
			wantErr: true,
		},
		{
			name:    "negative limit rejected",
			query:   "limit=-5",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			params, err := ParseQuery(values)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, params)
		})
	}
}
