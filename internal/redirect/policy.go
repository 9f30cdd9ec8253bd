// Package redirect decides post-authentication landing targets and builds
// the gate's redirect URLs.
package redirect

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/identity/models"
	"tradegate/internal/identity/ports"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/requestcontext"
)

const (
	// LandingUser is the default authenticated landing page.
	LandingUser = "/charts"
	// LandingAdmin is the admin landing page.
	LandingAdmin = "/admin"

	loginPath = "/login"
	errorPath = "/account/error"
)

// LoginTarget builds the login entry URL, preserving the requested path.
func LoginTarget(returnTo string) string {
	if !SafeReturnTo(returnTo) {
		return loginPath
	}
	return loginPath + "?return_to=" + url.QueryEscape(returnTo)
}

// ErrorTarget builds the account error surface URL. For locked accounts,
// until carries the unlock instant.
func ErrorTarget(reason string, until *time.Time) string {
	target := errorPath + "?reason=" + url.QueryEscape(reason)
	if until != nil {
		target += "&until=" + strconv.FormatInt(until.Unix(), 10)
	}
	return target
}

// SafeReturnTo reports whether a return-to value is an origin-relative path.
// Anything else is discarded rather than redirected to.
func SafeReturnTo(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}

// Policy computes the landing target for an authenticated caller.
//
// A durable projection's role is authoritative. The admin email allow-list is
// consulted only while no projection exists, to avoid blocking a first admin
// login on projection latency; a fallback grant schedules a deferred role
// upsert so the next login finds the durable role.
type Policy struct {
	adminEmails    map[string]struct{}
	accounts       ports.AccountStore
	auditPublisher audit.Publisher
	logger         *slog.Logger
	upsertTimeout  time.Duration
}

type Option func(*Policy)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(p *Policy) {
		p.auditPublisher = publisher
	}
}

func WithUpsertTimeout(d time.Duration) Option {
	return func(p *Policy) {
		p.upsertTimeout = d
	}
}

func New(adminEmails []string, accounts ports.AccountStore, opts ...Option) *Policy {
	p := &Policy{
		adminEmails:   make(map[string]struct{}, len(adminEmails)),
		accounts:      accounts,
		logger:        slog.Default(),
		upsertTimeout: 5 * time.Second,
	}
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			p.adminEmails[email] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide returns the landing target for the caller. Idempotent: identical
// inputs always yield the same target. At most one deferred upsert is
// scheduled per call, and only when the allow-list fallback granted admin.
func (p *Policy) Decide(ctx context.Context, claim *models.Claim, account *models.AccountProjection, returnTo string) string {
	if claim == nil {
		return LandingUser
	}

	if account != nil {
		if account.Role == models.RoleAdmin {
			return LandingAdmin
		}
		return userTarget(returnTo)
	}

	if _, ok := p.adminEmails[strings.ToLower(claim.Email)]; ok {
		p.scheduleRoleUpsert(ctx, claim.SubjectID, claim.Email)
		return LandingAdmin
	}
	return userTarget(returnTo)
}

func userTarget(returnTo string) string {
	if SafeReturnTo(returnTo) {
		return returnTo
	}
	return LandingUser
}

// scheduleRoleUpsert issues the role write without joining it to the request.
// The write survives request cancellation and its failure is logged, never
// surfaced or retried here; the store upsert is idempotent so a later login
// repeats it.
func (p *Policy) scheduleRoleUpsert(ctx context.Context, subjectID, email string) {
	p.logAudit(ctx, audit.EventRoleFallbackGranted, subjectID, "email", email)

	detached := context.WithoutCancel(ctx)
	go func() {
		writeCtx, cancel := context.WithTimeout(detached, p.upsertTimeout)
		defer cancel()
		if err := p.accounts.EnsureRole(writeCtx, subjectID, models.RoleAdmin); err != nil {
			p.logger.ErrorContext(writeCtx, "deferred role upsert failed",
				"subject_id", subjectID,
				"error", err,
			)
			p.logAudit(writeCtx, audit.EventRoleUpsertFailed, subjectID, "error", err.Error())
		}
	}()
}

func (p *Policy) logAudit(ctx context.Context, action audit.AuditEvent, subjectID string, attrs ...any) {
	args := append(attrs, "event", string(action), "log_type", "audit", "subject_id", subjectID)
	p.logger.InfoContext(ctx, string(action), args...)
	if p.auditPublisher == nil {
		return
	}
	event := audit.NewEvent(action, requestcontext.Now(ctx))
	event.SubjectID = subjectID
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	_ = p.auditPublisher.Emit(ctx, event)
}
