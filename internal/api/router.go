package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/questgen/internal/api/middleware"
	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"github.com/phrazzld/questgen/internal/service"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds the router's collaborators and limits.
type RouterConfig struct {
	Service        service.GenerationService
	Logger         *slog.Logger
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	// RequestTimeout bounds non-streaming requests. Zero disables it.
	RequestTimeout time.Duration
	// HealthChecks are run by /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// NewRouter builds the HTTP handler with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(log))
	r.Use(apiMiddleware.Metrics)
	r.Use(chimw.Recoverer)

	plans := NewPlanHandler(cfg.Service, log)
	streams := NewStreamHandler(cfg.Service, cfg.AllowedOrigins, log)

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(apiMiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(cfg.RequestTimeout))
			}
			r.Post("/documents", plans.IngestDocument)
			r.Post("/documents/{id}/plans", plans.CreatePlan)
			r.Post("/plans/{id}/generation", plans.StartGeneration)
			r.Get("/plans/{id}", plans.GetStatus)
			r.Get("/plans/{id}/questions", plans.GetQuestions)
			r.Post("/plans/{id}/cancel", plans.Cancel)
		})

		// Streams stay open until the plan finishes.
		r.Get("/plans/{id}/events", streams.Events)
		r.Get("/plans/{id}/ws", streams.WebSocket)
	})

	r.Get("/health", healthHandler(cfg.HealthChecks, log))
	r.Handle("/metrics", metrics.Handler())

	return r
}

// healthHandler answers 200 when every check passes and 503 otherwise,
// naming the failing dependencies.
func healthHandler(checks map[string]HealthCheck, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		result := map[string]string{}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn("health check failed", slog.String("dependency", name), slog.String("error", err.Error()))
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		resp := map[string]any{"status": "ok", "checks": result}
		if status != http.StatusOK {
			resp["status"] = "degraded"
		}
		shared.RespondWithJSON(w, r, status, resp)
	}
}
