package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"log-ingest/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RateLimit middleware.RateLimitConfig
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Logger enables per-request logging when set.
	Logger *slog.Logger
}

// NewRouter builds the HTTP router: health and metrics endpoints are public,
// the API routes are rate limited per client.
func NewRouter(h *APIHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(cfg.RateLimit))
		}
		h.Routes(r)
	})
	return r
}
