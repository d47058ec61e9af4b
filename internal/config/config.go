// Package config handles application configuration from environment variables
package config

import (
	"fmt"
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
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement settings
	SettlementWindow  time.Duration // auto-release window after owner confirms return
	SweepInterval     time.Duration // auto-release scheduler tick
	ContractWindow    time.Duration // contract acceptance validity
	LockWaitTimeout   time.Duration // max bounded wait for a per-account lock
	InsuranceAttempts int           // retry attempts for insurance activation
	InsuranceBackoff  time.Duration // base backoff between insurance attempts

	// Payments
	StripeSecretKey string // enables external card capture when set

	// Rate limiting
	RateLimitRPM   int // requests per minute per account
	RateLimitBurst int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultSettlementWindow  = 48 * time.Hour
	DefaultSweepInterval     = time.Minute
	DefaultContractWindow    = 24 * time.Hour
	DefaultLockWaitTimeout   = 2 * time.Second
	DefaultInsuranceAttempts = 3
	DefaultInsuranceBackoff  = time.Second
	DefaultRateLimitRPM      = 120
	DefaultRateLimitBurst    = 20
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SettlementWindow:  getEnvDuration("SETTLEMENT_WINDOW", DefaultSettlementWindow),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		ContractWindow:    getEnvDuration("CONTRACT_WINDOW", DefaultContractWindow),
		LockWaitTimeout:   getEnvDuration("LOCK_WAIT_TIMEOUT", DefaultLockWaitTimeout),
		InsuranceAttempts: int(getEnvInt64("INSURANCE_ATTEMPTS", DefaultInsuranceAttempts)),
		InsuranceBackoff:  getEnvDuration("INSURANCE_BACKOFF", DefaultInsuranceBackoff),
		StripeSecretKey:   os.Getenv("STRIPE_SECRET_KEY"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:    int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.SettlementWindow <= 0 {
		return fmt.Errorf("SETTLEMENT_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.ContractWindow <= 0 {
		return fmt.Errorf("CONTRACT_WINDOW must be positive")
	}
	if c.InsuranceAttempts < 1 {
		return fmt.Errorf("INSURANCE_ATTEMPTS must be at least 1")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
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
