// Package postgres implements a durable, multi-process safe fixed-window
// counter store backed by PostgreSQL.
//
// Each (key, window) pair owns one counter row; check-and-increment is a
// single atomic upsert, so concurrent instances never lose updates. When the
// database is unreachable the store fails open by default: availability is
// favored over strict throttling during store outages, and every such grant
// is logged.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradegate/internal/ratelimit/models"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/requestcontext"
)

var checkDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tradegate_ratelimit_postgres_check_duration_ms",
	Help:    "Latency of PostgreSQL rate limit checks in milliseconds",
	Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100},
})

var failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradegate_ratelimit_postgres_fail_open_total",
	Help: "Rate limit checks granted because the PostgreSQL backend was unavailable",
})

// Schema is the counter table definition. Windows are keyed by their boundary
// instant so counters never span two windows.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
	key          TEXT        NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	count        INTEGER     NOT NULL DEFAULT 0,
	PRIMARY KEY (key, window_start)
)`

// Store is a PostgreSQL-backed CounterStore.
type Store struct {
	db             *sql.DB
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
// Some deployments prefer strict denial over availability.
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

// New constructs a PostgreSQL-backed counter store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether one more attempt is allowed and records it if so.
// The upsert only increments while under the limit, so denied attempts are
// never recorded and the counter cannot overshoot.
func (s *Store) Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	start := time.Now()
	defer func() {
		checkDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	now := requestcontext.Now(ctx)
	windowStart := models.WindowStart(now, limit.Window)
	resetAt := models.WindowReset(now, limit.Window)

	const query = `
		INSERT INTO rate_limit_counters (key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key, window_start) DO UPDATE SET
			count = rate_limit_counters.count + 1
		WHERE rate_limit_counters.count < $3
		RETURNING count
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, key, windowStart, limit.MaxAttempts).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The guarded upsert matched no row: the window is already full.
		return &models.Result{
			Allowed:    false,
			Limit:      limit.MaxAttempts,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: models.RetryAfterSeconds(now, resetAt),
		}, nil
	}
	if err != nil {
		return s.degraded(ctx, key, limit, now, resetAt, err)
	}

	remaining := limit.MaxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxAttempts,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Peek returns the current window state without consuming an attempt.
func (s *Store) Peek(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	windowStart := models.WindowStart(now, limit.Window)
	resetAt := models.WindowReset(now, limit.Window)

	const query = `SELECT count FROM rate_limit_counters WHERE key = $1 AND window_start = $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, key, windowStart).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		count = 0
	} else if err != nil {
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

// Reset clears the counter for a key across all windows.
func (s *Store) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("reset rate limit counter: %w", err)
	}
	return nil
}

// RemoveExpiredAt deletes counter rows whose window ended before the given
// horizon. Exported for testability; background cleanup passes wall-clock time.
func (s *Store) RemoveExpiredAt(ctx context.Context, horizon time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE window_start < $1`, horizon); err != nil {
		return fmt.Errorf("cleanup rate limit counters: %w", err)
	}
	return nil
}

// StartCleanup runs periodic cleanup of stale windows until ctx is cancelled.
func (s *Store) StartCleanup(ctx context.Context, interval, retain time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RemoveExpiredAt(ctx, time.Now().Add(-retain)); err != nil {
				s.logger.WarnContext(ctx, "rate limit cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// degraded applies the configured fail mode when the backend is unreachable.
// The error is never propagated to the caller; the request either passes
// (fail-open, default) or is denied for the rest of the window (fail-closed).
func (s *Store) degraded(ctx context.Context, key string, limit models.Limit, now, resetAt time.Time, err error) (*models.Result, error) {
	if s.failClosed {
		s.logger.ErrorContext(ctx, "rate limit backend unavailable, failing closed",
			"backend", "postgres", "key", key, "error", err)
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
		"backend", "postgres", "key", key, "error", err)
	if s.auditPublisher != nil {
		event := audit.NewEvent(audit.EventLimiterFailOpen, now)
		event.Identifier = key
		event.Reason = "postgres unavailable"
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
