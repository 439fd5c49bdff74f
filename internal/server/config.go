// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chatwire service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls
// and the backing-service wiring.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// RedisAddr selects the shared Redis backend for the identity store,
	// distribution bus, and message log. Empty means in-process backends
	// (single-server mode).
	RedisAddr string

	// VerificationTimeout bounds how long a sign-up verification token
	// stays consumable.
	VerificationTimeout time.Duration

	// VerificationLinkPrefix is prepended to the token when composing the
	// verification link placed in the sign-up email.
	VerificationLinkPrefix string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		VerificationTimeout:    24 * time.Hour,
		VerificationLinkPrefix: "http://localhost:8080/verify?token=",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.VerificationTimeout <= 0 {
		cfg.VerificationTimeout = 24 * time.Hour
	}
	if cfg.VerificationLinkPrefix == "" {
		cfg.VerificationLinkPrefix = "http://localhost:8080/verify?token="
	}
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSecondsValue(interval, cfg.RateLimit.RefillInterval)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if timeout := os.Getenv("VERIFICATION_TIMEOUT"); timeout != "" {
		cfg.VerificationTimeout = parseDurationValue(timeout, cfg.VerificationTimeout)
	}
	if prefix := os.Getenv("VERIFICATION_LINK_PREFIX"); prefix != "" {
		cfg.VerificationLinkPrefix = prefix
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSecondsValue(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseDurationValue(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
