// Package models defines the shared types of the ratelimit module.
package models

import (
	"fmt"
	"time"
)

// Action categorizes rate-limited operations for differentiated limits.
type Action string

const (
	// ActionCredentialSubmit: credential submission endpoints (5 req / 15 min).
	ActionCredentialSubmit Action = "credential_submit"
	// ActionReportSubmit: abuse-prone report submission endpoints (10 req / min).
	ActionReportSubmit Action = "report_submit"
)

// IsValid checks if the action is one of the supported enum values.
func (a Action) IsValid() bool {
	switch a {
	case ActionCredentialSubmit, ActionReportSubmit:
		return true
	}
	return false
}

// Limit is the per-action rate limit configuration.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// Result represents the outcome of a rate limit check. All backends produce
// the same observable shape so callers stay backend-agnostic.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Key identifies a rate limit counter by caller identifier and action.
type Key struct {
	Action     Action
	Identifier string
}

// NewKey creates a rate limit key for an identifier (network origin or
// subject ID) and action.
func NewKey(action Action, identifier string) Key {
	return Key{Action: action, Identifier: identifier}
}

// String returns the canonical store key form "rl:<action>:<identifier>".
func (k Key) String() string {
	return fmt.Sprintf("rl:%s:%s", k.Action, k.Identifier)
}

// WindowID returns the fixed-window identifier floor(unixMilli / windowMs).
// All callers sharing a window id share a single counter; counters never span
// two window ids.
func WindowID(now time.Time, window time.Duration) int64 {
	return now.UnixMilli() / window.Milliseconds()
}

// WindowStart returns the boundary instant of the window containing now.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return time.UnixMilli(WindowID(now, window) * window.Milliseconds())
}

// WindowReset returns the instant the window containing now rolls over.
func WindowReset(now time.Time, window time.Duration) time.Time {
	return WindowStart(now, window).Add(window)
}

// RetryAfterSeconds converts the gap between now and resetAt into the
// Retry-After header value, rounding up so callers never retry early.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
