// Package models defines the identity claim and account projection types.
package models

import "time"

// Role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Status of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// Claim is the verified result of authenticating a request. It lives for the
// request only and is never cached across requests.
type Claim struct {
	SubjectID string
	Email     string
	IssuedAt  time.Time
}

// AccountProjection is a read model of an account's role, status and lock
// state. The gate never mutates it; the only write it may trigger is the
// deferred role upsert, owned by the account store.
type AccountProjection struct {
	SubjectID   string
	Role        Role
	Status      Status
	LockedUntil *time.Time
}

// Locked reports whether the account is locked at the given instant.
func (p *AccountProjection) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}
