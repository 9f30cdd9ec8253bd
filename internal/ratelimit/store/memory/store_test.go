package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tradegate/internal/ratelimit/models"
	"tradegate/pkg/requestcontext"
)

var testLimit = models.Limit{MaxAttempts: 10, Window: time.Minute}

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func (s *StoreSuite) TestCheck() {
	s.Run("first request allowed", func() {
		result, err := s.store.Check(s.ctx, "rl:report_submit:1.2.3.4", testLimit)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit.MaxAttempts, result.Limit)
		s.Equal(testLimit.MaxAttempts-1, result.Remaining)
	})

	s.Run("requests up to limit allowed", func() {
		var result *models.Result
		var err error
		for range testLimit.MaxAttempts {
			result, err = s.store.Check(s.ctx, "rl:report_submit:limit", testLimit)
			s.Require().NoError(err)
			s.True(result.Allowed)
		}
		s.Equal(0, result.Remaining)
	})

	s.Run("request over limit denied with retry guidance", func() {
		for range testLimit.MaxAttempts {
			_, err := s.store.Check(s.ctx, "rl:report_submit:over", testLimit)
			s.Require().NoError(err)
		}
		result, err := s.store.Check(s.ctx, "rl:report_submit:over", testLimit)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Positive(result.RetryAfter)
	})
}

func (s *StoreSuite) TestWindowBoundaryStartsFreshCounter() {
	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, base)

	for range testLimit.MaxAttempts {
		_, err := s.store.Check(ctx, "rl:report_submit:boundary", testLimit)
		s.Require().NoError(err)
	}
	denied, err := s.store.Check(ctx, "rl:report_submit:boundary", testLimit)
	s.Require().NoError(err)
	s.False(denied.Allowed)

	// Crossing into the next window resets the counter to zero regardless of
	// the prior window's count; no unspent budget carries over.
	next := requestcontext.WithTime(s.ctx, base.Add(time.Minute))
	result, err := s.store.Check(next, "rl:report_submit:boundary", testLimit)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit.MaxAttempts-1, result.Remaining)
}

func (s *StoreSuite) TestPeekDoesNotConsume() {
	_, err := s.store.Check(s.ctx, "rl:report_submit:peek", testLimit)
	s.Require().NoError(err)

	for range 3 {
		result, err := s.store.Peek(s.ctx, "rl:report_submit:peek", testLimit)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit.MaxAttempts-1, result.Remaining)
	}
}

func (s *StoreSuite) TestReset() {
	for range testLimit.MaxAttempts {
		_, err := s.store.Check(s.ctx, "rl:report_submit:reset", testLimit)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.store.Reset(s.ctx, "rl:report_submit:reset"))

	result, err := s.store.Check(s.ctx, "rl:report_submit:reset", testLimit)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit.MaxAttempts-1, result.Remaining)
}

func (s *StoreSuite) TestCapacityBoundHeldAfterEviction() {
	store := New(WithCapacity(100), WithRetentionWindows(2))
	ctx := requestcontext.WithTime(s.ctx, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := range 500 {
		_, err := store.Check(ctx, fmt.Sprintf("rl:report_submit:caller-%d", i), testLimit)
		s.Require().NoError(err)
	}

	s.LessOrEqual(store.Len(), 100)
}

func (s *StoreSuite) TestEvictionPurgesStaleWindowsFirst() {
	store := New(WithCapacity(3), WithRetentionWindows(2))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := requestcontext.WithTime(s.ctx, base)
	for _, key := range []string{"rl:report_submit:a", "rl:report_submit:b", "rl:report_submit:c"} {
		_, err := store.Check(old, key, testLimit)
		s.Require().NoError(err)
	}

	// Ten windows later the old entries are beyond the retention horizon and
	// get purged instead of forcing resetAt-ordered eviction.
	fresh := requestcontext.WithTime(s.ctx, base.Add(10*time.Minute))
	_, err := store.Check(fresh, "rl:report_submit:d", testLimit)
	s.Require().NoError(err)

	s.Equal(1, store.Len())
}

// A denied counter must survive eviction pressure from keys with a shorter
// window. The retention horizon is per entry, so a burst of fresh one-minute
// keys filling the store cannot purge a fifteen-minute counter that is still
// inside its window; only the resetAt-ordered fallback runs, and that drops
// the soonest-expiring entries first.
func (s *StoreSuite) TestEvictionKeepsActiveCountersAcrossWindowLengths() {
	store := New(WithCapacity(50), WithRetentionWindows(5))
	ctx := requestcontext.WithTime(s.ctx, time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))

	credentialLimit := models.Limit{MaxAttempts: 5, Window: 15 * time.Minute}
	lockedKey := "rl:credential_submit:attacker@example.com"
	for range credentialLimit.MaxAttempts {
		_, err := store.Check(ctx, lockedKey, credentialLimit)
		s.Require().NoError(err)
	}
	denied, err := store.Check(ctx, lockedKey, credentialLimit)
	s.Require().NoError(err)
	s.Require().False(denied.Allowed)

	reportLimit := models.Limit{MaxAttempts: 10, Window: time.Minute}
	for i := range 60 {
		_, err := store.Check(ctx, fmt.Sprintf("rl:report_submit:flood-%d", i), reportLimit)
		s.Require().NoError(err)
	}

	result, err := store.Check(ctx, lockedKey, credentialLimit)
	s.Require().NoError(err)
	s.False(result.Allowed, "lockout must hold for the rest of its window")
	s.LessOrEqual(store.Len(), 50)
}

func (s *StoreSuite) TestConcurrentChecksNeverExceedLimit() {
	limit := models.Limit{MaxAttempts: 100, Window: time.Minute}
	key := "rl:report_submit:concurrent"
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for range 200 {
		wg.Go(func() {
			result, err := s.store.Check(s.ctx, key, limit)
			s.Require().NoError(err)
			if result.Allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		})
	}

	wg.Wait()
	s.Equal(limit.MaxAttempts, allowedCount)
}
