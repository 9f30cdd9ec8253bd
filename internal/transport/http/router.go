package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the endpoint surface. Middlewares run in the given order;
// the gatekeeper middleware is expected among them, so handlers never see a
// request it rejected.
func NewRouter(h *Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.handleHome)
	r.Get("/charts", h.handleCharts)
	r.Get("/charts/*", h.handleCharts)
	r.Get("/admin", h.handleAdmin)
	r.Get("/admin/*", h.handleAdmin)

	r.Post("/login", h.handleLogin)
	r.Post("/api/reports", h.handleReportSubmit)

	r.Route("/internal", func(r chi.Router) {
		r.Get("/ratelimit/{action}/{identifier}", h.handleRateLimitPeek)
		r.Delete("/ratelimit/{action}/{identifier}", h.handleRateLimitReset)
		r.Get("/audit/events", h.handleAuditEvents)
	})

	return r
}
