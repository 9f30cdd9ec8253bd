// Package memory implements a capacity-bounded, self-evicting fixed-window
// counter store.
//
// This store is correct only for a single-process deployment: counters live
// in process memory and are NOT shared across server instances. Multi-instance
// deployments must use the postgres or redis backend instead.
package memory

import (
	"context"
	"sync"

	"tradegate/internal/ratelimit/models"
	"tradegate/pkg/requestcontext"
)

const (
	// DefaultCapacity bounds the number of distinct keys held at once.
	DefaultCapacity = 10_000
	// DefaultRetentionWindows is how many windows back an entry may lag
	// before the opportunistic purge removes it.
	DefaultRetentionWindows = 5
)

// counter is the per-key fixed-window state. Count is only ever incremented
// within the window it was created for; a boundary crossing starts a fresh
// counter, never carrying over unspent budget.
type counter struct {
	windowID int64
	count    int
	resetAt  int64 // unix milli of the window rollover, used for eviction order
	windowMs int64 // window length, used to compute the retention horizon
}

// Store is a capacity-bounded in-memory CounterStore.
type Store struct {
	mu        sync.Mutex
	counters  map[string]*counter
	capacity  int
	retention int64
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides the maximum number of distinct keys.
func WithCapacity(capacity int) Option {
	return func(s *Store) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithRetentionWindows overrides how many windows back entries are retained.
func WithRetentionWindows(windows int) Option {
	return func(s *Store) {
		if windows > 0 {
			s.retention = int64(windows)
		}
	}
}

// New creates an in-memory counter store.
func New(opts ...Option) *Store {
	s := &Store{
		counters:  make(map[string]*counter),
		capacity:  DefaultCapacity,
		retention: DefaultRetentionWindows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether one more attempt is allowed and records it if so.
func (s *Store) Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	windowID := models.WindowID(now, limit.Window)
	resetAt := models.WindowReset(now, limit.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c == nil || c.windowID != windowID {
		if c == nil && len(s.counters)+1 > s.capacity {
			s.evictLocked(now.UnixMilli())
		}
		c = &counter{
			windowID: windowID,
			resetAt:  resetAt.UnixMilli(),
			windowMs: limit.Window.Milliseconds(),
		}
		s.counters[key] = c
	}

	if c.count >= limit.MaxAttempts {
		return &models.Result{
			Allowed:    false,
			Limit:      limit.MaxAttempts,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: models.RetryAfterSeconds(now, resetAt),
		}, nil
	}

	c.count++
	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxAttempts,
		Remaining: limit.MaxAttempts - c.count,
		ResetAt:   resetAt,
	}, nil
}

// Peek returns the current window state without consuming an attempt.
func (s *Store) Peek(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	windowID := models.WindowID(now, limit.Window)
	resetAt := models.WindowReset(now, limit.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	if c := s.counters[key]; c != nil && c.windowID == windowID {
		count = c.count
	}

	remaining := limit.MaxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return &models.Result{
		Allowed:   count < limit.MaxAttempts,
		Limit:     limit.MaxAttempts,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the counter for a key.
func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Len returns the number of distinct keys currently held. Exported for tests
// that verify the capacity bound.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// evictLocked makes room for one insertion: first purge entries whose window
// ended more than retention windows ago, then, if still at capacity, drop the
// entries with the oldest resetAt until one slot is free. Must be called
// holding s.mu.
//
// The horizon is computed per entry in that entry's own window units; keys
// with different window lengths never fall under one shared cutoff, so an
// insertion burst of short-window keys cannot purge a long-window counter
// that is still inside its window.
func (s *Store) evictLocked(nowMilli int64) {
	for key, c := range s.counters {
		if c.resetAt+s.retention*c.windowMs < nowMilli {
			delete(s.counters, key)
		}
	}

	for len(s.counters)+1 > s.capacity {
		oldestKey := ""
		var oldestReset int64
		for key, c := range s.counters {
			if oldestKey == "" || c.resetAt < oldestReset {
				oldestKey = key
				oldestReset = c.resetAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.counters, oldestKey)
	}
}
