package gatekeeper

import (
	"net/http"
	"strconv"
	"strings"

	"tradegate/pkg/domainerrors"
	"tradegate/pkg/platform/httputil"
	"tradegate/pkg/requestcontext"
)

// SessionCookie carries the session token issued by the identity provider.
const SessionCookie = "session"

// Middleware applies the admission decision to every request. Control
// reaches the wrapped handler only on allow; security headers are stamped on
// every outcome.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.StampHeaders(w.Header())

		decision := g.Decide(r.Context(), r.Method, r.URL.Path, Credential(r))
		if g.metrics != nil {
			g.metrics.ObserveDecision(string(decision.Outcome))
		}

		if limit := decision.RateLimit; limit != nil {
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(limit.ResetAt.Unix(), 10))
		}

		switch decision.Outcome {
		case OutcomeRedirect:
			http.Redirect(w, r, decision.Target, http.StatusFound)

		case OutcomeReject:
			if decision.Status == http.StatusTooManyRequests {
				retryAfter := 1
				if decision.RateLimit != nil && decision.RateLimit.RetryAfter > 0 {
					retryAfter = decision.RateLimit.RetryAfter
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteError(w, domainerrors.New(domainerrors.CodeRateLimited, "rate limit exceeded"))
				return
			}
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnavailable, "service unavailable"))

		default:
			ctx := r.Context()
			if resolution := decision.Resolution; resolution != nil && resolution.Authenticated() {
				ctx = requestcontext.WithSubjectID(ctx, resolution.Identity.SubjectID)
				ctx = requestcontext.WithEmail(ctx, resolution.Identity.Email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// Credential extracts the session token from the request: session cookie
// first, then a bearer Authorization header. Empty means anonymous.
func Credential(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
