// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"5000"`

	// Browser client allowed to call the API with credentials.
	ClientURL string `env:"CLIENT_URL" envDefault:"http://localhost:3000"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	// Cache (Redis)
	RedisURL      string `env:"REDIS_URL,required"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Session signing
	JWTSecret string `env:"JWT_SECRET,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Upstream market data
	CoinGeckoBaseURL string        `env:"COINGECKO_BASE_URL" envDefault:"https://api.coingecko.com/api/v3"`
	CoinGeckoAPIKey  string        `env:"COINGECKO_API_KEY" envDefault:""`
	CoinGeckoTimeout time.Duration `env:"COINGECKO_TIMEOUT" envDefault:"20s"`

	// Refresh pipeline
	TopCoinsLimit       int           `env:"TOP_COINS_LIMIT" envDefault:"10"`
	RefreshSchedule     string        `env:"REFRESH_SCHEDULE" envDefault:"0 * * * *"`
	RefreshStartupDelay time.Duration `env:"REFRESH_STARTUP_DELAY" envDefault:"5s"`
	StalenessWindow     time.Duration `env:"STALENESS_WINDOW" envDefault:"30m"`
	HistoryRetention    time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`
	ChartCacheTTL       time.Duration `env:"CHART_CACHE_TTL" envDefault:"5m"`

	// Rate limiting (per client IP)
	RateLimitEnabled  bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// AllowedOrigins returns the CORS origins derived from CLIENT_URL.
// CLIENT_URL may hold a comma-separated list.
func (c *Config) AllowedOrigins() []string {
	if c.ClientURL == "" {
		return nil
	}

	origins := strings.Split(c.ClientURL, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or values are out of range.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// minProductionSecretLen is the shortest JWT_SECRET accepted in production.
const minProductionSecretLen = 32

func (c *Config) validate() error {
	if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
		return fmt.Errorf("REFRESH_SCHEDULE %q is not a valid cron expression: %w", c.RefreshSchedule, err)
	}
	if c.RefreshStartupDelay < 0 {
		return fmt.Errorf("REFRESH_STARTUP_DELAY must not be negative")
	}
	if c.IsProduction() && len(c.JWTSecret) < minProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in production", minProductionSecretLen)
	}
	if c.TopCoinsLimit < 1 || c.TopCoinsLimit > 250 {
		return fmt.Errorf("TOP_COINS_LIMIT must be between 1 and 250, got %d", c.TopCoinsLimit)
	}
	if c.HistoryRetention <= 0 {
		return fmt.Errorf("HISTORY_RETENTION must be positive")
	}
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("STALENESS_WINDOW must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	return nil
}
