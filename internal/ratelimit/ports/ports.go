// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"

	"tradegate/internal/ratelimit/models"
)

// CounterStore manages fixed-window rate limit counters.
//
// Check is check-and-increment: an allowed call consumes one attempt.
// Implementations must either make this atomic or bias toward under-counting;
// the failure mode of "slightly too permissive" is preferable to false
// positive lockouts.
type CounterStore interface {
	// Check reports whether one more attempt is allowed under the limit and,
	// if so, records it.
	Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error)

	// Peek returns the current window state without consuming an attempt.
	Peek(ctx context.Context, key string, limit models.Limit) (*models.Result, error)

	// Reset clears the counter for a key across all windows.
	Reset(ctx context.Context, key string) error
}
