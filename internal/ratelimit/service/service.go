// Package service implements the rate limiting business logic: per-action
// limit configuration, key construction, and delegation to a counter store.
package service

import (
	"context"
	"log/slog"
	"time"

	"tradegate/internal/ratelimit/models"
	"tradegate/internal/ratelimit/ports"
	"tradegate/pkg/domainerrors"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/requestcontext"
)

// DefaultLimits returns the built-in per-action limit table.
func DefaultLimits() map[models.Action]models.Limit {
	return map[models.Action]models.Limit{
		models.ActionCredentialSubmit: {MaxAttempts: 5, Window: 15 * time.Minute},
		models.ActionReportSubmit:     {MaxAttempts: 10, Window: time.Minute},
	}
}

type Service struct {
	store          ports.CounterStore
	limits         map[models.Action]models.Limit
	auditPublisher audit.Publisher
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// New validates the limit table and constructs the service. A broken limit
// entry is a deployment error and is rejected at startup rather than at
// request time.
func New(store ports.CounterStore, limits map[models.Action]models.Limit, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, domainerrors.New(domainerrors.CodeConfig, "counter store is required")
	}
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	for action, limit := range limits {
		if !action.IsValid() {
			return nil, domainerrors.New(domainerrors.CodeConfig, "unknown rate limit action: "+string(action))
		}
		if limit.MaxAttempts <= 0 {
			return nil, domainerrors.New(domainerrors.CodeConfig, "max attempts must be positive for action "+string(action))
		}
		if limit.Window <= 0 {
			return nil, domainerrors.New(domainerrors.CodeConfig, "window must be positive for action "+string(action))
		}
	}

	svc := &Service{
		store:  store,
		limits: limits,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check consumes one attempt for the identifier under the action's limit.
// An action with no configured limit is denied and reported; silently
// admitting unmetered traffic would defeat the point of the gate.
func (s *Service) Check(ctx context.Context, action models.Action, identifier string) (*models.Result, error) {
	limit, ok := s.limits[action]
	if !ok {
		s.logAudit(ctx, audit.EventLimitConfigMissing, identifier, "action", string(action))
		return nil, domainerrors.New(domainerrors.CodeConfig, "no rate limit configured for action "+string(action))
	}

	key := models.NewKey(action, identifier)
	result, err := s.store.Check(ctx, key.String(), limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "rate limit check failed")
	}

	if !result.Allowed {
		s.logAudit(ctx, audit.EventRateLimitExceeded, identifier,
			"action", string(action),
			"limit", limit.MaxAttempts,
			"window_seconds", int(limit.Window.Seconds()),
			"retry_after", result.RetryAfter,
		)
	}
	return result, nil
}

// Peek reports the current window state without consuming an attempt.
func (s *Service) Peek(ctx context.Context, action models.Action, identifier string) (*models.Result, error) {
	limit, ok := s.limits[action]
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeConfig, "no rate limit configured for action "+string(action))
	}
	key := models.NewKey(action, identifier)
	result, err := s.store.Peek(ctx, key.String(), limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "rate limit peek failed")
	}
	return result, nil
}

// Reset clears the counter for an identifier and action across all windows.
func (s *Service) Reset(ctx context.Context, action models.Action, identifier string) error {
	if _, ok := s.limits[action]; !ok {
		return domainerrors.New(domainerrors.CodeConfig, "no rate limit configured for action "+string(action))
	}
	key := models.NewKey(action, identifier)
	if err := s.store.Reset(ctx, key.String()); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "rate limit reset failed")
	}
	s.logAudit(ctx, audit.EventLimiterReset, identifier, "action", string(action))
	return nil
}

// Limit returns the configured limit for an action, if any.
func (s *Service) Limit(action models.Action) (models.Limit, bool) {
	limit, ok := s.limits[action]
	return limit, ok
}

func (s *Service) logAudit(ctx context.Context, action audit.AuditEvent, identifier string, attrs ...any) {
	args := append(attrs, "event", string(action), "log_type", "audit", "identifier", identifier)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, string(action), args...)

	if s.auditPublisher == nil {
		return
	}
	event := audit.NewEvent(action, requestcontext.Now(ctx))
	event.Identifier = identifier
	event.SubjectID = requestcontext.SubjectID(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	_ = s.auditPublisher.Emit(ctx, event)
}
