package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/gatherly/gatherly-notify/internal/api/handler"
	"github.com/gatherly/gatherly-notify/internal/config"
	"github.com/gatherly/gatherly-notify/internal/db"
	"github.com/gatherly/gatherly-notify/internal/notify"
	"github.com/gatherly/gatherly-notify/internal/store"
)

// NewRouter creates and configures the Chi router with all middleware and
// routes. The open callback is invoked from client devices, so CORS is
// applied across the surface.
func NewRouter(pool *db.Pool, st *store.Store, stats *notify.StatsRecorder, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, st, stats)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Gateway/client callbacks mutating delivery records
	r.Route("/callbacks", func(r chi.Router) {
		r.Post("/delivered", h.Delivered)
		r.Post("/opened", h.Opened)
	})

	// Operator metrics
	r.Get("/metrics/runs", h.RecentRuns)

	return r
}
