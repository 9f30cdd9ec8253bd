// Package gatekeeper turns each inbound request into a single admission
// decision: allow, redirect, or reject. It runs the pipeline
// classify, resolve identity, check rate limit, decide.
package gatekeeper

import (
	"context"
	"log/slog"
	"net/http"

	identitymodels "tradegate/internal/identity/models"
	"tradegate/internal/platform/metrics"
	ratelimitmodels "tradegate/internal/ratelimit/models"
	"tradegate/internal/redirect"
	"tradegate/internal/routes"
	"tradegate/internal/session"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/requestcontext"
)

// Outcome of a decision.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeRedirect Outcome = "redirect"
	OutcomeReject   Outcome = "reject"
)

// Decision is fully determined by classification, identity and rate-limit
// state; no other state is carried across requests.
type Decision struct {
	Outcome Outcome
	// Target is set for redirects.
	Target string
	// Status is set for rejections.
	Status int
	// RateLimit carries window state whenever a limited action applied,
	// allowed or not, for response header stamping.
	RateLimit *ratelimitmodels.Result
	// Resolution is the identity view the decision was made with.
	Resolution *session.Resolution
}

// Resolver yields the identity view for a request credential.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*session.Resolution, error)
}

// RateLimiter consumes one attempt for an identifier under an action's limit.
type RateLimiter interface {
	Check(ctx context.Context, action ratelimitmodels.Action, identifier string) (*ratelimitmodels.Result, error)
}

// LandingPolicy picks the authenticated landing target.
type LandingPolicy interface {
	Decide(ctx context.Context, claim *identitymodels.Claim, account *identitymodels.AccountProjection, returnTo string) string
}

type Gatekeeper struct {
	classifier     *routes.Classifier
	resolver       Resolver
	limiter        RateLimiter
	landing        LandingPolicy
	auditPublisher audit.Publisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	headers        []headerPair
}

type Option func(*Gatekeeper)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gatekeeper) {
		g.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(g *Gatekeeper) {
		g.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gatekeeper) {
		g.metrics = m
	}
}

// WithAllowedOrigins adds origins to the content security policy's script,
// style and connect sources.
func WithAllowedOrigins(origins []string) Option {
	return func(g *Gatekeeper) {
		g.headers = securityHeaders(origins)
	}
}

func New(classifier *routes.Classifier, resolver Resolver, limiter RateLimiter, landing LandingPolicy, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		classifier: classifier,
		resolver:   resolver,
		limiter:    limiter,
		landing:    landing,
		logger:     slog.Default(),
		headers:    securityHeaders(nil),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide runs the admission pipeline for one request.
func (g *Gatekeeper) Decide(ctx context.Context, method, path, credential string) Decision {
	classification := g.classifier.Classify(path)

	resolution, err := g.resolver.Resolve(ctx, credential)
	if err != nil {
		// Identity infrastructure is down after retries. Public traffic
		// passes; identity-required routes fail toward denial.
		g.logger.ErrorContext(ctx, "session resolution failed",
			"path", path,
			"error", err,
		)
		resolution = &session.Resolution{}
		if classification.RequiresIdentity() {
			return Decision{
				Outcome:    OutcomeRedirect,
				Target:     redirect.LoginTarget(path),
				Resolution: resolution,
			}
		}
	}

	if action, limited := g.classifier.LimitedAction(method, path); limited {
		checked, denied := g.checkRateLimit(ctx, action, path, resolution)
		if denied {
			return checked
		}
		decision := g.decide(ctx, classification, path, resolution)
		decision.RateLimit = checked.RateLimit
		return decision
	}

	return g.decide(ctx, classification, path, resolution)
}

// checkRateLimit consumes an attempt and returns a terminal rejection when
// the caller is over the limit. The second return is true only for terminal
// outcomes.
func (g *Gatekeeper) checkRateLimit(ctx context.Context, action ratelimitmodels.Action, path string, resolution *session.Resolution) (Decision, bool) {
	identifier := requestcontext.ClientIP(ctx)
	if resolution.Authenticated() {
		identifier = resolution.Identity.SubjectID
	}
	if identifier == "" {
		identifier = "unknown"
	}

	result, err := g.limiter.Check(ctx, action, identifier)
	if err != nil {
		// Counter stores absorb backend outages themselves per their fail
		// mode; an error here means broken limit config or a store bug.
		g.logger.ErrorContext(ctx, "rate limit check failed",
			"action", string(action),
			"path", path,
			"error", err,
		)
		return Decision{
			Outcome:    OutcomeReject,
			Status:     http.StatusServiceUnavailable,
			Resolution: resolution,
		}, true
	}
	if !result.Allowed {
		return Decision{
			Outcome:    OutcomeReject,
			Status:     http.StatusTooManyRequests,
			RateLimit:  result,
			Resolution: resolution,
		}, true
	}
	return Decision{RateLimit: result}, false
}

func (g *Gatekeeper) decide(ctx context.Context, classification routes.Classification, path string, resolution *session.Resolution) Decision {
	redirectTo := func(target string) Decision {
		return Decision{Outcome: OutcomeRedirect, Target: target, Resolution: resolution}
	}

	switch classification.Kind {
	case routes.KindAuthOnly:
		if resolution.Authenticated() {
			return redirectTo(g.landing.Decide(ctx, resolution.Identity, resolution.Account, ""))
		}
		return Decision{Outcome: OutcomeAllow, Resolution: resolution}

	case routes.KindProtected, routes.KindRoleGated:
		if !resolution.Authenticated() {
			return redirectTo(redirect.LoginTarget(path))
		}

		if account := resolution.Account; account != nil {
			switch account.Status {
			case identitymodels.StatusSuspended:
				g.logAudit(ctx, audit.EventAccountSuspendedRedirect, resolution, path, "suspended")
				return redirectTo(redirect.ErrorTarget("suspended", nil))
			case identitymodels.StatusInactive:
				g.logAudit(ctx, audit.EventAccountSuspendedRedirect, resolution, path, "inactive")
				return redirectTo(redirect.ErrorTarget("inactive", nil))
			}
			if account.Locked(requestcontext.Now(ctx)) {
				g.logAudit(ctx, audit.EventAccountLockedRedirect, resolution, path, "locked")
				return redirectTo(redirect.ErrorTarget("locked", account.LockedUntil))
			}
		}

		if classification.Kind == routes.KindRoleGated {
			// A missing projection cannot prove the role; send the caller to
			// the default landing rather than failing the request.
			if resolution.Account == nil || string(resolution.Account.Role) != classification.Role {
				g.logAudit(ctx, audit.EventRoleMismatchRedirect, resolution, path, "role_mismatch")
				return redirectTo(redirect.LandingUser)
			}
		}
		return Decision{Outcome: OutcomeAllow, Resolution: resolution}

	default:
		return Decision{Outcome: OutcomeAllow, Resolution: resolution}
	}
}

func (g *Gatekeeper) logAudit(ctx context.Context, action audit.AuditEvent, resolution *session.Resolution, path, reason string) {
	subjectID := ""
	if resolution.Authenticated() {
		subjectID = resolution.Identity.SubjectID
	}
	g.logger.InfoContext(ctx, string(action),
		"event", string(action),
		"log_type", "audit",
		"subject_id", subjectID,
		"path", path,
		"reason", reason,
	)
	if g.auditPublisher == nil {
		return
	}
	event := audit.NewEvent(action, requestcontext.Now(ctx))
	event.SubjectID = subjectID
	event.Path = path
	event.Reason = reason
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	_ = g.auditPublisher.Emit(ctx, event)
}
