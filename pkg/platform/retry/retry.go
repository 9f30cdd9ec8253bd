// Package retry provides a bounded exponential-backoff executor for fallible
// operations against upstream services (identity provider, profile store).
//
// The executor is policy-agnostic: it retries whatever error the operation
// returns unless the error is marked with Permanent. Classifying errors as
// transient or terminal is the caller's responsibility.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config bounds the retry loop. MaxRetries is the total number of attempts;
// the delay before retry i (1-indexed) is min(InitialDelay*Factor^(i-1), MaxDelay).
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultConfig matches the upstream-call budget used across services:
// three attempts, 250ms initial delay, doubling, capped at 2s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Factor:       2,
	}
}

// Observer is invoked before each retry with the error that triggered it and
// the 1-indexed number of the attempt that failed. It is for telemetry only
// and must not affect control flow.
type Observer func(err error, attempt int)

// Option configures a single Do call.
type Option func(*executor)

// WithObserver registers a telemetry callback invoked before each retry.
func WithObserver(fn Observer) Option {
	return func(e *executor) {
		e.observe = fn
	}
}

// WithSleep replaces the delay function. Tests inject a recorder so the
// attempt/delay contract can be verified without wall-clock waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *executor) {
		e.sleep = fn
	}
}

type executor struct {
	observe Observer
	sleep   func(ctx context.Context, d time.Duration) error
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as non-retryable. Do returns the wrapped error
// immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op up to cfg.MaxRetries times, backing off between attempts.
// The error from the final attempt is returned verbatim, not wrapped.
// Context cancellation aborts the backoff wait between attempts.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	e := &executor{sleep: sleepCtx}
	for _, opt := range opts {
		opt(e)
	}

	var zero T
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		if e.observe != nil {
			e.observe(err, attempt)
		}

		d := delay
		if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
			d = cfg.MaxDelay
		}
		if err := e.sleep(ctx, d); err != nil {
			return zero, lastErr
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
