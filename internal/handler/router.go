package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/coinpulse/coinpulse/internal/middleware"
)

// RouterConfig wires handlers and middleware settings into the router.
type RouterConfig struct {
	Logger *slog.Logger

	Root    *Handler
	Health  *HealthHandler
	Metrics *MetricsHandler
	Market  *MarketHandler
	Auth    *AuthHandler

	Sessions middleware.Authenticator

	IsDevelopment      bool
	AllowedOrigins     []string
	MaxRequestBodySize int64
	RateLimit          middleware.RateLimitConfig
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment}))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Probes stay outside the rate limit.
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitIP(cfg.RateLimit))

		r.Get("/", cfg.Root.Root)
		r.Get("/health", cfg.Health.Health)

		r.Route("/api", func(r chi.Router) {
			r.Get("/coins", cfg.Market.ListCoins)
			r.Get("/coins/{coinId}/chart", cfg.Market.Chart)
			r.Post("/history", cfg.Market.CreateSnapshot)
			r.Get("/history/{coinId}", cfg.Market.History)
			r.Get("/stats", cfg.Market.Stats)

			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", cfg.Auth.Register)
				r.Post("/login", cfg.Auth.Login)
				r.Post("/logout", cfg.Auth.Logout)
				r.With(middleware.RequireSession(cfg.Sessions, cfg.Logger)).Get("/protected", cfg.Auth.Protected)
			})
		})
	})

	// 404 and 405 handlers
	r.NotFound(cfg.Root.NotFound)
	r.MethodNotAllowed(cfg.Root.MethodNotAllowed)

	return r
}
