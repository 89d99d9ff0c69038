// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/notifyd and cmd/notifyctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Callback/operator API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting (callback API)
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Push gateway
	GatewayURL    string
	GatewayAPIKey string
	GatewayRPM    int // request budget per minute for the gateway client

	// Notification pipeline
	Notify NotifyConfig
}

// NotifyConfig holds the tunables of the notification pipeline. Defaults
// match the gateway contract (batch size) and product policy (radius, quota).
type NotifyConfig struct {
	RadiusKm         float64       // candidate search radius
	DailyLimit       int           // max notifications per user per window
	QuotaWindow      time.Duration // trailing quota window
	BatchSize        int           // gateway batch-size ceiling
	MaxInFlight      int           // concurrent batch sends, clamped to [1,4]
	MaxRetries       int           // whole-batch retry attempts
	RetryBackoff     time.Duration // base backoff, doubled per attempt
	FilterTimeout    time.Duration // candidate lookup + filter stage budget
	BatchSendTimeout time.Duration // per-batch send budget
	SweepInterval    time.Duration // catch-up sweep period; zero disables
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("NOTIFY_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or NOTIFY_DATABASE_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8100)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		GatewayURL:    envOr("PUSH_GATEWAY_URL", ""),
		GatewayAPIKey: envOr("PUSH_GATEWAY_API_KEY", ""),
		GatewayRPM:    envInt("PUSH_GATEWAY_RPM", 600),

		Notify: NotifyConfig{
			RadiusKm:         envFloat("NOTIFY_RADIUS_KM", 20),
			DailyLimit:       envInt("NOTIFY_DAILY_LIMIT", 3),
			QuotaWindow:      time.Duration(envInt("NOTIFY_QUOTA_WINDOW_HOURS", 24)) * time.Hour,
			BatchSize:        envInt("NOTIFY_BATCH_SIZE", 100),
			MaxInFlight:      envInt("NOTIFY_MAX_IN_FLIGHT", 2),
			MaxRetries:       envInt("NOTIFY_MAX_RETRIES", 3),
			RetryBackoff:     time.Duration(envInt("NOTIFY_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
			FilterTimeout:    time.Duration(envInt("NOTIFY_FILTER_TIMEOUT_SECONDS", 30)) * time.Second,
			BatchSendTimeout: time.Duration(envInt("NOTIFY_BATCH_TIMEOUT_SECONDS", 15)) * time.Second,
			SweepInterval:    time.Duration(envInt("NOTIFY_SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		},
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
