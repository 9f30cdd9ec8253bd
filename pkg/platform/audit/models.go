// Package audit captures security-relevant gate decisions as structured
// events, decoupled from the request path. Events are transport-agnostic so
// stores and sinks can fan out.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: rate limit violations, suspended-account access attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// Examples: fail-open grants, deferred write failures.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from gate logic to capture key actions.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	SubjectID string        `json:"subject_id,omitempty"`
	// Identifier is the rate-limit or lockout identifier (network origin or
	// subject) the event concerns.
	Identifier string `json:"identifier,omitempty"`
	Path       string `json:"path,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ClientIP   string `json:"client_ip,omitempty"`
}

// AuditEvent names every recognized event.
type AuditEvent string

const (
	// Rate limit events
	EventRateLimitExceeded  AuditEvent = "rate_limit_exceeded"
	EventLimiterFailOpen    AuditEvent = "limiter_fail_open"
	EventLimitConfigMissing AuditEvent = "rate_limit_config_missing"
	EventLimiterReset       AuditEvent = "rate_limit_reset"

	// Account state events
	EventAccountSuspendedRedirect AuditEvent = "account_suspended_redirect"
	EventAccountLockedRedirect    AuditEvent = "account_locked_redirect"
	EventRoleMismatchRedirect     AuditEvent = "role_mismatch_redirect"

	// Role projection events
	EventRoleFallbackGranted AuditEvent = "role_fallback_granted"
	EventRoleUpsertFailed    AuditEvent = "role_upsert_failed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventRateLimitExceeded:        CategorySecurity,
	EventLimiterFailOpen:          CategoryOperations,
	EventLimitConfigMissing:       CategoryOperations,
	EventLimiterReset:             CategoryOperations,
	EventAccountSuspendedRedirect: CategorySecurity,
	EventAccountLockedRedirect:    CategorySecurity,
	EventRoleMismatchRedirect:     CategorySecurity,
	EventRoleFallbackGranted:      CategorySecurity,
	EventRoleUpsertFailed:         CategoryOperations,
}

// CategoryOf returns the category for an event name, defaulting to operations.
func CategoryOf(action AuditEvent) EventCategory {
	if c, ok := eventCategories[action]; ok {
		return c
	}
	return CategoryOperations
}

// NewEvent builds an event with an ID, timestamp and derived category filled in.
func NewEvent(action AuditEvent, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Category:  CategoryOf(action),
		Timestamp: at,
		Action:    string(action),
	}
}
