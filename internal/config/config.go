// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string

	// Scoring
	ScoringProfile string // YAML profile path; built-in defaults when empty

	// Event processing
	MaxTxAttempts int
	TxRetryDelay  time.Duration

	// Review prompts
	ReviewPromptURL    string // log-only when empty
	ReviewPromptSecret string

	// Badge expiry
	ExpirySweepInterval time.Duration

	// Security
	IngestSecret string // shared secret for POST /v1/events
	AdminSecret  string // Admin API secret
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultMaxTxAttempts       = 5
	DefaultTxRetryDelay        = 25 * time.Millisecond
	DefaultExpirySweepInterval = time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ScoringProfile:      os.Getenv("SCORING_PROFILE"),
		MaxTxAttempts:       getEnvInt("MAX_TX_ATTEMPTS", DefaultMaxTxAttempts),
		TxRetryDelay:        time.Duration(getEnvInt("TX_RETRY_DELAY_MS", int(DefaultTxRetryDelay/time.Millisecond))) * time.Millisecond,
		ReviewPromptURL:     os.Getenv("REVIEW_PROMPT_URL"),
		ReviewPromptSecret:  os.Getenv("REVIEW_PROMPT_SECRET"),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", DefaultExpirySweepInterval),
		IngestSecret:        os.Getenv("INGEST_SECRET"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and the secrets production requires.
func (c *Config) Validate() error {
	var errs []error

	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.MaxTxAttempts < 1 || c.MaxTxAttempts > 50 {
		errs = append(errs, fmt.Errorf("MAX_TX_ATTEMPTS must be between 1 and 50, got %d", c.MaxTxAttempts))
	}
	if c.TxRetryDelay < 0 {
		errs = append(errs, errors.New("TX_RETRY_DELAY_MS must not be negative"))
	}
	if c.ExpirySweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be at least 1s, got %s", c.ExpirySweepInterval))
	}
	if c.ReviewPromptURL != "" {
		u, err := url.Parse(c.ReviewPromptURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("REVIEW_PROMPT_URL must be an absolute http(s) URL, got %q", c.ReviewPromptURL))
		}
	}

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if c.IngestSecret == "" {
			errs = append(errs, errors.New("INGEST_SECRET is required in production"))
		}
		if c.AdminSecret == "" {
			errs = append(errs, errors.New("ADMIN_SECRET is required in production"))
		}
		if c.ReviewPromptURL != "" && c.ReviewPromptSecret == "" {
			errs = append(errs, errors.New("REVIEW_PROMPT_SECRET is required when REVIEW_PROMPT_URL is set in production"))
		}
	}

	return errors.Join(errs...)
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
