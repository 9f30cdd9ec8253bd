//go:build integration

package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradegate/internal/ratelimit/models"
	redisstore "tradegate/internal/ratelimit/store/redis"
	"tradegate/pkg/testutil/containers"
)

func TestRedisStoreAgainstRealBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	store := redisstore.New(rc.Client)
	ctx := context.Background()
	limit := models.Limit{MaxAttempts: 10, Window: time.Minute}

	t.Run("serial checks enforce the limit", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		for i := range limit.MaxAttempts {
			result, err := store.Check(ctx, "rl:report_submit:serial", limit)
			require.NoError(t, err)
			require.True(t, result.Allowed, "attempt %d", i+1)
		}
		result, err := store.Check(ctx, "rl:report_submit:serial", limit)
		require.NoError(t, err)
		require.False(t, result.Allowed)
	})

	t.Run("concurrent checks stay close to the limit", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		var wg sync.WaitGroup
		var allowed atomic.Int32
		for range 50 {
			wg.Go(func() {
				result, err := store.Check(ctx, "rl:report_submit:concurrent", limit)
				require.NoError(t, err)
				if result.Allowed {
					allowed.Add(1)
				}
			})
		}
		wg.Wait()

		// Read-then-record is documented as permissive under races: at least
		// the limit is admitted, never fewer.
		require.GreaterOrEqual(t, allowed.Load(), int32(limit.MaxAttempts))
	})
}
