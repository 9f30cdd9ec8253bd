// Package ports defines the identity module's interfaces.
package ports

import (
	"context"
	"errors"

	"tradegate/internal/identity/models"
)

// ErrNotFound is returned by AccountStore.Get when no projection exists for
// the subject.
var ErrNotFound = errors.New("account projection not found")

//go:generate mockgen -source=ports.go -destination=../mocks/ports_mock.go -package=mocks

// Provider validates request credential material against the identity
// provider and yields the caller's claim. Credential verification itself is
// external; implementations only check what the provider issued.
type Provider interface {
	Verify(ctx context.Context, credential string) (*models.Claim, error)
}

// AccountStore reads account projections and applies the deferred role
// upsert.
type AccountStore interface {
	// Get returns the projection for a subject, or ErrNotFound.
	Get(ctx context.Context, subjectID string) (*models.AccountProjection, error)

	// EnsureRole upserts the role for a subject. Idempotent: repeating the
	// call with the same role is a no-op, and an existing projection's other
	// fields are preserved.
	EnsureRole(ctx context.Context, subjectID string, role models.Role) error
}
