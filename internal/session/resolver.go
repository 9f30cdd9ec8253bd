// Package session resolves request credential material into an identity
// claim and an account projection.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tradegate/internal/identity/models"
	"tradegate/internal/identity/ports"
	"tradegate/pkg/domainerrors"
	"tradegate/pkg/platform/retry"
)

// Resolution is the per-request identity view. Both fields may be nil: an
// anonymous caller has neither, and an authenticated caller whose projection
// has not propagated yet has a claim but no account.
type Resolution struct {
	Identity *models.Claim
	Account  *models.AccountProjection
}

func (r *Resolution) Authenticated() bool {
	return r.Identity != nil
}

type Resolver struct {
	provider     ports.Provider
	accounts     ports.AccountStore
	retryCfg     retry.Config
	fetchTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Resolver) {
		r.retryCfg = cfg
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.fetchTimeout = d
	}
}

func New(provider ports.Provider, accounts ports.AccountStore, opts ...Option) *Resolver {
	r := &Resolver{
		provider:     provider,
		accounts:     accounts,
		retryCfg:     retry.DefaultConfig(),
		fetchTimeout: 3 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve verifies the credential and fetches the account projection.
//
// An empty credential or one the provider rejects resolves to anonymous, not
// an error. Transient provider failures are retried; only retry exhaustion
// surfaces an error. A missing or unreachable projection never fails
// resolution: the claim stands alone and Account is nil.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*Resolution, error) {
	if credential == "" {
		return &Resolution{}, nil
	}

	identity, err := retry.Do(ctx, r.retryCfg, func(ctx context.Context) (*models.Claim, error) {
		verifyCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
		claim, err := r.provider.Verify(verifyCtx, credential)
		if err != nil {
			// Rejected credentials never become valid by retrying.
			if code := domainerrors.CodeOf(err); code == domainerrors.CodeUnauthorized || code == domainerrors.CodeInvalidInput {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return claim, nil
	}, retry.WithObserver(func(err error, attempt int) {
		r.logger.WarnContext(ctx, "identity verification retry",
			"attempt", attempt,
			"error", err,
		)
	}))
	if err != nil {
		if domainerrors.CodeOf(err) == domainerrors.CodeUnauthorized {
			return &Resolution{}, nil
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "identity provider unreachable")
	}

	resolution := &Resolution{Identity: identity}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	account, err := r.accounts.Get(fetchCtx, identity.SubjectID)
	switch {
	case err == nil:
		resolution.Account = account
	case errors.Is(err, ports.ErrNotFound):
		// Projection has not propagated yet. Identity alone suffices.
	default:
		r.logger.WarnContext(ctx, "account projection fetch failed, continuing without projection",
			"subject_id", identity.SubjectID,
			"error", err,
		)
	}
	return resolution, nil
}
