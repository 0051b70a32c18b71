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
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	GatewayPublicKey       string // public key handed to the client payment widget
	GatewayIntegritySecret string // signs outbound checkout amounts
	GatewayEventsSecret    string // authenticates inbound webhook checksums
	GatewayRedirectURL     string // where the widget redirects after payment
	Currency               string // fixed settlement currency

	// Sessions
	SessionSecret string // signs session JWTs
	SessionTTL    time.Duration
	AdminSecret   string // X-Admin-Secret for administrative endpoints

	// Notifications
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SMTPSender    string
	OperatorEmail string // receives approved-payment notifications

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing

	// Rate limiting
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultCurrency   = "COP"
	DefaultSessionTTL = 24 * time.Hour
	DefaultRateLimit  = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
		DatabaseURL:            os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayPublicKey:       os.Getenv("GATEWAY_PUBLIC_KEY"),
		GatewayIntegritySecret: os.Getenv("GATEWAY_INTEGRITY_SECRET"),
		GatewayEventsSecret:    os.Getenv("GATEWAY_EVENTS_SECRET"),
		GatewayRedirectURL:     getEnv("GATEWAY_REDIRECT_URL", "https://app.fleetmaster.co/billing/result"),
		Currency:               getEnv("CURRENCY", DefaultCurrency),
		SessionSecret:          os.Getenv("SESSION_SECRET"),
		SessionTTL:             getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
		SMTPHost:               os.Getenv("SMTP_HOST"),
		SMTPPort:               getEnv("SMTP_PORT", "587"),
		SMTPUsername:           os.Getenv("SMTP_USERNAME"),
		SMTPPassword:           os.Getenv("SMTP_PASSWORD"),
		SMTPSender:             getEnv("SMTP_SENDER", "no-reply@fleetmaster.co"),
		OperatorEmail:          os.Getenv("OPERATOR_EMAIL"),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:           getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.GatewayIntegritySecret == "" {
		return fmt.Errorf("GATEWAY_INTEGRITY_SECRET is required")
	}
	if c.GatewayEventsSecret == "" {
		return fmt.Errorf("GATEWAY_EVENTS_SECRET is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter code")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
