// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services; admission control happens in the gatekeeper middleware before a
// request reaches them.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tradegate/internal/ratelimit/models"
	"tradegate/pkg/domainerrors"
	"tradegate/pkg/platform/audit"
	"tradegate/pkg/platform/httputil"
	"tradegate/pkg/requestcontext"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// RateLimitAdmin is the introspection surface of the rate limit service.
type RateLimitAdmin interface {
	Peek(ctx context.Context, action models.Action, identifier string) (*models.Result, error)
	Reset(ctx context.Context, action models.Action, identifier string) error
}

// AuditReader lists recently recorded audit events.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Handler struct {
	limits RateLimitAdmin
	audits AuditReader
	health map[string]HealthCheck
	logger *slog.Logger
}

type Option func(*Handler)

func WithAuditReader(audits AuditReader) Option {
	return func(h *Handler) {
		h.audits = audits
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.health[name] = check
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(limits RateLimitAdmin, opts ...Option) *Handler {
	h := &Handler{
		limits: limits,
		health: make(map[string]HealthCheck),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(r.Context()); err != nil {
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			h.logger.WarnContext(r.Context(), "health check failed", "dependency", name, "error", err)
			continue
		}
		checks[name] = "up"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	httputil.WriteJSON(w, status, body)
}

// handleHome serves the public landing payload.
func (h *Handler) handleHome(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"page": "home"})
}

func (h *Handler) handleCharts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"page":    "charts",
		"subject": requestcontext.SubjectID(r.Context()),
	})
}

func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"page":    "admin",
		"subject": requestcontext.SubjectID(r.Context()),
	})
}

// handleLogin receives rate-limited credential submissions. Credential
// verification belongs to the external identity provider; the gate only
// meters and forwards.
func (h *Handler) handleLogin(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusNotImplemented, map[string]string{
		"error":             "not_implemented",
		"error_description": "credential verification is delegated to the identity provider",
	})
}

func (h *Handler) handleReportSubmit(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     uuid.NewString(),
	})
}

func (h *Handler) handleRateLimitPeek(w http.ResponseWriter, r *http.Request) {
	action := models.Action(chi.URLParam(r, "action"))
	if !action.IsValid() {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "unknown action"))
		return
	}
	result, err := h.limits.Peek(r.Context(), action, chi.URLParam(r, "identifier"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	action := models.Action(chi.URLParam(r, "action"))
	if !action.IsValid() {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "unknown action"))
		return
	}
	if err := h.limits.Reset(r.Context(), action, chi.URLParam(r, "identifier")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audits == nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeNotFound, "audit store not configured"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "limit must be 1..1000"))
			return
		}
		limit = parsed
	}
	events, err := h.audits.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
