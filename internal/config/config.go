// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis URL for shared circuit/bucket/idempotency state (optional)

	// Pipeline settings
	MaxConcurrentSessions int
	StepTimeout           time.Duration
	FlowTimeout           time.Duration
	SessionRetention      time.Duration

	// Rate limiting (per session, per endpoint)
	RateLimitCapacity int
	RateLimitRefillPS float64
	RateLimitWindow   time.Duration

	// Knowledge search (optional; in-memory keyword search if unset)
	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string

	// Card actions (optional; no-op freezer if unset)
	StripeAPIKey string

	// Observability
	OTLPEndpoint string

	// CORS (comma-separated origins; "*" allows all)
	CORSAllowedOrigins []string
}

// Defaults
const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultMaxConcurrentSessions = 50
	DefaultStepTimeoutMs         = 1000
	DefaultFlowTimeoutMs         = 5000
	DefaultSessionRetentionSec   = 300
	DefaultRateLimitCapacity     = 5
	DefaultRateLimitRefillPS     = 5.0
	DefaultRateLimitWindowSec    = 60
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		MaxConcurrentSessions: getEnvInt("MAX_CONCURRENT_SESSIONS", DefaultMaxConcurrentSessions),
		StepTimeout:           time.Duration(getEnvInt("STEP_TIMEOUT_MS", DefaultStepTimeoutMs)) * time.Millisecond,
		FlowTimeout:           time.Duration(getEnvInt("FLOW_TIMEOUT_MS", DefaultFlowTimeoutMs)) * time.Millisecond,
		SessionRetention:      time.Duration(getEnvInt("SESSION_RETENTION_SEC", DefaultSessionRetentionSec)) * time.Second,
		RateLimitCapacity:     getEnvInt("RATE_LIMIT_CAPACITY", DefaultRateLimitCapacity),
		RateLimitRefillPS:     getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", DefaultRateLimitRefillPS),
		RateLimitWindow:       time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SEC", DefaultRateLimitWindowSec)) * time.Second,
		QdrantURL:             os.Getenv("QDRANT_URL"),
		QdrantCollection:      getEnv("QDRANT_COLLECTION", "fraud_ops_kb"),
		QdrantAPIKey:          os.Getenv("QDRANT_API_KEY"),
		StripeAPIKey:          os.Getenv("STRIPE_API_KEY"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are sane.
func (c *Config) Validate() error {
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("STEP_TIMEOUT_MS must be positive")
	}
	if c.FlowTimeout < c.StepTimeout {
		return fmt.Errorf("FLOW_TIMEOUT_MS must be >= STEP_TIMEOUT_MS")
	}
	if c.RateLimitCapacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive")
	}
	if c.RateLimitRefillPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_REFILL_PER_SEC must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
