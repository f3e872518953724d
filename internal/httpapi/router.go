package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecoscore/greenscore/internal/health"
	"github.com/ecoscore/greenscore/internal/ratelimit"
)

// NewRouter assembles the full HTTP surface. Admission control applies
// to the score endpoint only; probes and metrics stay unthrottled.
func NewRouter(logger *slog.Logger, h *Handler, lim *ratelimit.Window) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(logger))
	r.Use(CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.With(Admission(lim)).Get("/green-score", h.GreenScore)

	return r
}
