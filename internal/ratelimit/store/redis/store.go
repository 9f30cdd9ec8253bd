// Package redis implements a multi-process safe fixed-window counter store
// backed by an external Redis instance.
//
// Attempt timestamps are stored as a list under "rate_limit:<key>:<window>"
// with the window length as the key TTL; stale timestamps are filtered out on
// each read. Read-then-record is not atomic, so concurrent racers can admit
// slightly more than the limit; the bias is toward under-counting, never
// toward false lockouts. Backend outages fail open by default, logged.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"tradegate/internal/ratelimit/models"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/requestcontext"
)

var checkDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tradegate_ratelimit_redis_check_duration_ms",
	Help:    "Latency of Redis rate limit checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

var failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradegate_ratelimit_redis_fail_open_total",
	Help: "Rate limit checks granted because the Redis backend was unavailable",
})

const keyPrefix = "rate_limit:"

// Store is a Redis-backed CounterStore.
type Store struct {
	client         *redis.Client
	logger         *slog.Logger
	auditPublisher audit.Publisher
	failClosed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger used for degraded-mode grants.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFailClosed makes backend outages deny traffic instead of admitting it.
func WithFailClosed(failClosed bool) Option {
	return func(s *Store) {
		s.failClosed = failClosed
	}
}

// WithAuditPublisher records fail-open grants on the audit trail.
func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Store) {
		s.auditPublisher = publisher
	}
}

// New constructs a Redis-backed counter store. The client lifecycle is
// managed externally.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether one more attempt is allowed and records it if so.
func (s *Store) Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	start := time.Now()
	defer func() {
		checkDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	now := requestcontext.Now(ctx)
	windowStart := models.WindowStart(now, limit.Window)
	resetAt := models.WindowReset(now, limit.Window)
	redisKey := s.windowKey(key, now, limit.Window)

	count, err := s.countAttempts(ctx, redisKey, windowStart)
	if err != nil {
		return s.degraded(ctx, key, limit, now, resetAt, err)
	}

	if count >= limit.MaxAttempts {
		return &models.Result{
			Allowed:    false,
			Limit:      limit.MaxAttempts,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: models.RetryAfterSeconds(now, resetAt),
		}, nil
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, redisKey, now.UnixMilli())
	pipe.Expire(ctx, redisKey, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.degraded(ctx, key, limit, now, resetAt, err)
	}

	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxAttempts,
		Remaining: limit.MaxAttempts - count - 1,
		ResetAt:   resetAt,
	}, nil
}

// Peek returns the current window state without consuming an attempt.
func (s *Store) Peek(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	windowStart := models.WindowStart(now, limit.Window)
	resetAt := models.WindowReset(now, limit.Window)

	count, err := s.countAttempts(ctx, s.windowKey(key, now, limit.Window), windowStart)
	if err != nil {
		return s.degraded(ctx, key, limit, now, resetAt, err)
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

// Reset clears the counter for a key in the current and adjacent windows.
func (s *Store) Reset(ctx context.Context, key string) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+key+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan rate limit keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset rate limit counter: %w", err)
	}
	return nil
}

func (s *Store) windowKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, key, models.WindowID(now, window))
}

// countAttempts reads the attempt list and counts entries belonging to the
// current window. The window id is baked into the key, so stale entries only
// appear when a key outlives its TTL; they are filtered rather than trusted.
func (s *Store) countAttempts(ctx context.Context, redisKey string, windowStart time.Time) (int, error) {
	vals, err := s.client.LRange(ctx, redisKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	cutoff := windowStart.UnixMilli()
	count := 0
	for _, v := range vals {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if ts >= cutoff {
			count++
		}
	}
	return count, nil
}

func (s *Store) degraded(ctx context.Context, key string, limit models.Limit, now, resetAt time.Time, err error) (*models.Result, error) {
	if s.failClosed {
		s.logger.ErrorContext(ctx, "rate limit backend unavailable, failing closed",
			"backend", "redis", "key", key, "error", err)
		return &models.Result{
			Allowed:    false,
			Limit:      limit.MaxAttempts,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: models.RetryAfterSeconds(now, resetAt),
		}, nil
	}

	failOpenTotal.Inc()
	s.logger.WarnContext(ctx, "rate limit backend unavailable, failing open",
		"backend", "redis", "key", key, "error", err)
	if s.auditPublisher != nil {
		event := audit.NewEvent(audit.EventLimiterFailOpen, now)
		event.Identifier = key
		event.Reason = "redis unavailable"
		event.SubjectID = requestcontext.SubjectID(ctx)
		event.RequestID = requestcontext.RequestID(ctx)
		event.ClientIP = requestcontext.ClientIP(ctx)
		_ = s.auditPublisher.Emit(ctx, event)
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxAttempts,
		Remaining: limit.MaxAttempts,
		ResetAt:   resetAt,
	}, nil
}
