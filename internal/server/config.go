// Package server provides configuration helpers that define runtime defaults,
// validation, and transport guard parameters for the chat relay.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultRefillInterval  = time.Second
	defaultIdentityTimeout = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "INFO"
)

var validate = validator.New()

// RateLimitConfig defines the optional per-connection token bucket.
// A zero Burst disables rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"0" validate:"gte=0"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// IdentityConfig configures token verification and the identity directory.
type IdentityConfig struct {
	Audience       string        `env:"TOKEN_AUDIENCE" envDefault:"api://default"`
	Issuer         string        `env:"TOKEN_ISSUER"`
	ClientID       string        `env:"TOKEN_CLIENT_ID"`
	HMACSecret     string        `env:"TOKEN_HMAC_SECRET"`
	PublicKeyFile  string        `env:"TOKEN_PUBLIC_KEY_FILE" validate:"omitempty,file"`
	DirectoryURL   string        `env:"DIRECTORY_URL" validate:"omitempty,url"`
	DirectoryToken string        `env:"DIRECTORY_TOKEN"`
	Timeout        time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`
}

// Config holds the server configuration.
type Config struct {
	Port              string        `env:"SERVER_PORT" envDefault:":8080" validate:"required"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096" validate:"gt=0"`
	MessageExpiration time.Duration `env:"MESSAGE_EXPIRATION" envDefault:"5m"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	RateLimit         RateLimitConfig
	Identity          IdentityConfig
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := sanitizeConfig(Config{
		AllowedOrigins: []string{"http://localhost:8080"},
	})
	return &cfg
}

// LoadConfig reads the configuration from environment variables, applies
// defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// sanitizeConfig replaces zero values with defaults so partially filled
// configs built in code behave like ones loaded from the environment.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.MessageExpiration <= 0 {
		cfg.MessageExpiration = chat.DefaultExpiration
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.Identity.Audience == "" {
		cfg.Identity.Audience = identity.DefaultAudience
	}
	if cfg.Identity.Timeout <= 0 {
		cfg.Identity.Timeout = defaultIdentityTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}
