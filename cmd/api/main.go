// Package main is the entrypoint for the coinpulse API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/coinpulse/coinpulse/internal/auth"
	"github.com/coinpulse/coinpulse/internal/cache"
	"github.com/coinpulse/coinpulse/internal/coingecko"
	"github.com/coinpulse/coinpulse/internal/config"
	"github.com/coinpulse/coinpulse/internal/handler"
	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/middleware"
	"github.com/coinpulse/coinpulse/internal/refresh"
	"github.com/coinpulse/coinpulse/internal/repository"
	"github.com/coinpulse/coinpulse/internal/server"
	"github.com/coinpulse/coinpulse/internal/service"
)

const (
	// refreshWriteBudget covers the refresh transaction and its retries.
	refreshWriteBudget = 30 * time.Second
	// refreshLockMargin keeps the shared lock alive past the refresh deadline.
	refreshLockMargin = 30 * time.Second
)

// refreshBudget returns the per-refresh timeout and the shared lock TTL.
// The TTL always exceeds the timeout, so a refresh is cancelled before
// another replica can take the lock.
func refreshBudget(upstreamTimeout time.Duration) (timeout, lockTTL time.Duration) {
	timeout = upstreamTimeout + refreshWriteBudget
	return timeout, timeout + refreshLockMargin
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL,
		repository.WithMaxConns(cfg.DBMaxConns),
		repository.WithApplicationName("coinpulse-api"),
	)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if cfg.MigrateOnStart {
		applied, err := repo.Migrate(ctx)
		if err != nil {
			logger.Error("failed to apply migrations", "error", err)
			repo.Close()
			os.Exit(1)
		}
		logger.Info("migrations applied", "versions", applied)
	}

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL, cache.WithPoolSize(cfg.RedisPoolSize))
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	recorder := metrics.NewInMemory()

	// Refresh pipeline
	var cgOpts []coingecko.Option
	if cfg.CoinGeckoAPIKey != "" {
		cgOpts = append(cgOpts, coingecko.WithAPIKey(cfg.CoinGeckoAPIKey))
	}
	marketClient := coingecko.NewClient(cfg.CoinGeckoBaseURL, cfg.CoinGeckoTimeout, cgOpts...)

	refreshTimeout, refreshLockTTL := refreshBudget(cfg.CoinGeckoTimeout)
	coordinator := refresh.NewCoordinator(
		marketClient,
		repo,
		cache.NewRefreshLocker(cacheClient, refreshLockTTL),
		refresh.Config{Limit: cfg.TopCoinsLimit, Retention: cfg.HistoryRetention, Timeout: refreshTimeout},
		logger,
		recorder,
	)
	scheduler := refresh.NewScheduler(coordinator, cfg.RefreshSchedule, cfg.RefreshStartupDelay, logger)

	// Services
	marketService := service.NewMarketService(
		repo,
		coordinator,
		marketClient,
		cacheClient,
		service.MarketConfig{StalenessWindow: cfg.StalenessWindow, ChartCacheTTL: cfg.ChartCacheTTL},
		logger,
		recorder,
	)
	sessions := auth.NewSessionIssuer(cfg.JWTSecret)
	authService := service.NewAuthService(repo, auth.NewPasswordHasher(auth.DefaultArgon2Params), sessions)

	// Handlers and router
	exposeErrors := cfg.IsDevelopment()
	router := handler.NewRouter(handler.RouterConfig{
		Logger:  logger,
		Root:    handler.New(),
		Health:  handler.NewHealthHandler(repo, cacheClient),
		Metrics: handler.NewMetricsHandler(recorder),
		Market:  handler.NewMarketHandler(marketService, logger, exposeErrors),
		Auth: handler.NewAuthHandler(
			authService,
			auth.CookiePolicy{Production: cfg.IsProduction(), MaxAge: sessions.TTL()},
			logger,
			exposeErrors,
		),
		Sessions:           authService,
		IsDevelopment:      cfg.IsDevelopment(),
		AllowedOrigins:     cfg.AllowedOrigins(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		RateLimit: middleware.RateLimitConfig{
			Logger:   logger,
			Limiter:  cacheClient,
			Metrics:  recorder,
			Enabled:  cfg.RateLimitEnabled,
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
		},
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, stopped last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	srv.OnShutdown("refresh-scheduler", scheduler.Stop)

	// The datastore is up, so the schedule may begin.
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start refresh scheduler", "error", err)
		_ = cacheClient.Close()
		repo.Close()
		os.Exit(1)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"client_url", cfg.ClientURL,
		"coingecko_url", redactURL(cfg.CoinGeckoBaseURL),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "coinpulse")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL strips the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

// sanitizeError removes connection secrets from an error message.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
