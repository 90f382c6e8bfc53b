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
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Consensus settings
	RequiredSignatures int     // Minimum oracle signatures before consensus evaluation
	WeightThreshold    float64 // Weighted agreement ratio required to reach consensus
	OutlierZScore      float64 // Z-score above which a submission is an outlier
	AttestationTTL     time.Duration
	SlashingFraction   float64 // Fraction of stake slashed for outliers in disputed rounds

	// Payout settings
	MaxRetries            int
	RetryBaseDelay        time.Duration
	BackoffMultiplier     float64
	RetrySweepInterval    time.Duration // How often the scheduler sweeps for due retries
	FinalityConfirmations int64
	FinalityPollInterval  time.Duration

	// Trigger settings
	TriggerTTL time.Duration // How long a pending trigger may wait for confirmation

	// Observability
	OTLPEndpoint string

	// Security
	AdminSecret  string
	RateLimitRPS int
}

// Defaults. Consensus thresholds are named here rather than hardcoded at
// call sites so they are tunable and visible in one place.
const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultRequiredSignatures    = 3
	DefaultWeightThreshold       = 0.66
	DefaultOutlierZScore         = 2.0
	DefaultAttestationTTL        = 24 * time.Hour
	DefaultSlashingFraction      = 0.05
	DefaultMaxRetries            = 3
	DefaultRetryBaseDelay        = 30 * time.Second
	DefaultBackoffMultiplier     = 2.0
	DefaultRetrySweepInterval    = 10 * time.Second
	DefaultFinalityConfirmations = 5000
	DefaultFinalityPollInterval  = 5 * time.Second
	DefaultTriggerTTL            = 24 * time.Hour
	DefaultRateLimit             = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RequiredSignatures:    int(getEnvInt64("REQUIRED_SIGNATURES", DefaultRequiredSignatures)),
		WeightThreshold:       getEnvFloat("WEIGHT_THRESHOLD", DefaultWeightThreshold),
		OutlierZScore:         getEnvFloat("OUTLIER_ZSCORE", DefaultOutlierZScore),
		AttestationTTL:        getEnvDuration("ATTESTATION_TTL", DefaultAttestationTTL),
		SlashingFraction:      getEnvFloat("SLASHING_FRACTION", DefaultSlashingFraction),
		MaxRetries:            int(getEnvInt64("PAYOUT_MAX_RETRIES", DefaultMaxRetries)),
		RetryBaseDelay:        getEnvDuration("PAYOUT_RETRY_DELAY", DefaultRetryBaseDelay),
		BackoffMultiplier:     getEnvFloat("PAYOUT_BACKOFF_MULTIPLIER", DefaultBackoffMultiplier),
		RetrySweepInterval:    getEnvDuration("PAYOUT_SWEEP_INTERVAL", DefaultRetrySweepInterval),
		FinalityConfirmations: getEnvInt64("FINALITY_CONFIRMATIONS", DefaultFinalityConfirmations),
		FinalityPollInterval:  getEnvDuration("FINALITY_POLL_INTERVAL", DefaultFinalityPollInterval),
		TriggerTTL:            getEnvDuration("TRIGGER_TTL", DefaultTriggerTTL),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:          int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are coherent
func (c *Config) Validate() error {
	if c.RequiredSignatures < 1 {
		return fmt.Errorf("REQUIRED_SIGNATURES must be at least 1")
	}
	if c.WeightThreshold <= 0 || c.WeightThreshold > 1 {
		return fmt.Errorf("WEIGHT_THRESHOLD must be in (0, 1]")
	}
	if c.OutlierZScore <= 0 {
		return fmt.Errorf("OUTLIER_ZSCORE must be positive")
	}
	if c.SlashingFraction < 0 || c.SlashingFraction >= 1 {
		return fmt.Errorf("SLASHING_FRACTION must be in [0, 1)")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("PAYOUT_MAX_RETRIES must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("PAYOUT_BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.RetrySweepInterval <= 0 {
		return fmt.Errorf("PAYOUT_SWEEP_INTERVAL must be positive")
	}
	if c.FinalityConfirmations < 0 {
		return fmt.Errorf("FINALITY_CONFIRMATIONS must not be negative")
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
