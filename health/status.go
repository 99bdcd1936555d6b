// Package health derives job health from job lifecycle state and
// aggregates it across a runtime.
package health

import (
	"regexp"
	"strings"
	"time"
)

// Pre-compiled patterns for error message sanitization
var (
	urlRegex        = regexp.MustCompile(`(https?|nats|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status levels
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health of a job or of the whole runtime
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	State       string    `json:"state,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// FromJobState maps a job lifecycle state to a status. A running job is
// healthy; one still starting up or paused is degraded; a closed job is
// unhealthy only if closing failed.
func FromJobState(job, state string, failure error) Status {
	var s Status
	switch state {
	case "RUNNING":
		s = NewHealthy(job, "Job running")
	case "CLOSED":
		if failure != nil {
			s = NewUnhealthy(job, sanitizeErrorMessage(failure.Error()))
		} else {
			s = NewHealthy(job, "Job closed")
		}
	default:
		s = NewDegraded(job, "Job "+strings.ToLower(state))
	}
	s.State = state
	return s
}

// sanitizeErrorMessage removes URLs, paths, addresses and credentials
// from messages that leave the process.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	return credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
}
