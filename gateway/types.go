package gateway

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/pkg/timestamp"
)

const (
	// DefaultLimit is the page size when the query omits limit.
	DefaultLimit = 100
	// MaxLimit caps the page size regardless of what the query asks for.
	MaxLimit = 1000
)

// Config holds configuration for the query gateway.
type Config struct {
	// Port the HTTP server listens on.
	Port int `json:"port"`

	// EnableCORS enables CORS headers (requires explicit cors_origins).
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed origins. Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// QueryTimeoutStr bounds one catch-up read (default: "10s").
	QueryTimeoutStr string `json:"query_timeout,omitempty"`

	// queryTimeout is the parsed duration (internal use)
	queryTimeout time.Duration
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid port %d", c.Port))
	}

	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cors_origins is required when enable_cors is true")
	}

	if c.QueryTimeoutStr == "" {
		c.queryTimeout = 10 * time.Second
	} else {
		parsed, err := time.ParseDuration(c.QueryTimeoutStr)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid query_timeout format: %s", c.QueryTimeoutStr))
		}
		c.queryTimeout = parsed
	}

	if c.queryTimeout < 100*time.Millisecond || c.queryTimeout > 60*time.Second {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"query_timeout must be between 100ms and 60s")
	}

	return nil
}

// QueryTimeout returns the parsed query timeout
func (c *Config) QueryTimeout() time.Duration {
	return c.queryTimeout
}

// QueryParams are the parsed parameters of one catch-up query.
type QueryParams struct {
	// Since is the exclusive lower bound in Unix milliseconds. Events
	// with a timestamp strictly greater are returned. Zero means from
	// the start of the retained stream.
	Since int64

	// SessionID filters to one session when non-empty.
	SessionID string

	// AgentID filters to one agent when non-empty.
	AgentID string

	// HILOnly keeps only human-in-the-loop decision events.
	HILOnly bool

	// Limit caps the result size.
	Limit int
}

// ParseQuery extracts catch-up parameters from a URL query string.
// since accepts RFC3339 or epoch milliseconds.
func ParseQuery(values url.Values) (QueryParams, error) {
	params := QueryParams{Limit: DefaultLimit}

	if raw := values.Get("since"); raw != "" {
		ms := timestamp.Parse(raw)
		if ms == 0 {
			return QueryParams{}, errors.NewInvalid("QueryParams", "ParseQuery",
				fmt.Sprintf("invalid since value %q, expected RFC3339 or epoch milliseconds", raw))
		}
		params.Since = ms
	}

	params.SessionID = values.Get("sessionId")
	params.AgentID = values.Get("agentId")

	if raw := values.Get("hilOnly"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return QueryParams{}, errors.NewInvalid("QueryParams", "ParseQuery",
				fmt.Sprintf("invalid hilOnly value %q", raw))
		}
		params.HILOnly = parsed
	}

	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return QueryParams{}, errors.NewInvalid("QueryParams", "ParseQuery",
				fmt.Sprintf("invalid limit value %q, expected a positive integer", raw))
		}
		params.Limit = parsed
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}

	return params, nil
}
