// Package health converts component self-reports into the sanitized
// aggregate served on the gateway's /healthz endpoint.
package health

import (
	"regexp"
	"time"

	"github.com/c360/agentroom/component"
)

// Error messages can carry connection strings and file paths; they are
// scrubbed before leaving the process.
var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	pathRegex       = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the externally visible health of one pipeline component.
type Status struct {
	Healthy    bool      `json:"healthy"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
	Uptime     string    `json:"uptime"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Report is the aggregate for the whole service: healthy only when every
// component reports healthy.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]Status `json:"components"`
}

// FromComponent snapshots a component's health with its error message
// sanitized.
func FromComponent(c component.Discoverable) Status {
	h := c.Health()
	return Status{
		Healthy:    h.Healthy,
		ErrorCount: h.ErrorCount,
		LastError:  Sanitize(h.LastError),
		Uptime:     h.Uptime.Round(time.Second).String(),
		CheckedAt:  time.Now(),
	}
}

// Collect builds the service-wide report from the registered components.
func Collect(components []component.Discoverable) Report {
	report := Report{
		Healthy:    true,
		Components: make(map[string]Status, len(components)),
	}
	for _, c := range components {
		status := FromComponent(c)
		report.Components[c.Meta().Name] = status
		if !status.Healthy {
			report.Healthy = false
		}
	}
	return report
}

// Sanitize strips endpoints, paths, addresses, and credential-shaped
// fragments from an error message so /healthz never leaks topology or
// secrets.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = pathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = portRegex.ReplaceAllString(msg, "[PORT]")
	msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	return msg
}
