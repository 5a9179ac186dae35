package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// Core
	Host              string
	Port              int
	ServerEnv         string // "development" or "production"
	LogHealthRequests bool

	// JWT
	JWTSecret string

	// Redis broker. An empty URL runs the node in single-node mode: no cross-node
	// delivery, presence derived from the local registry.
	RedisURL         string
	RedisRequired    bool
	RedisRetries     int
	RedisRetryDelay  time.Duration
	RedisDialTimeout time.Duration

	// CORS
	CORSAllowOrigins string
}

// Load reads configuration from environment variables. It returns an error if any
// variable is set but cannot be parsed, or if required values are missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Host:              envStr("WS_HOST", "0.0.0.0"),
		Port:              p.int("WS_PORT", 8001),
		ServerEnv:         envStr("SERVER_ENV", "production"),
		LogHealthRequests: p.bool("LOG_HEALTH_REQUESTS", false),

		JWTSecret: envStr("JWT_SECRET", ""),

		RedisURL:         envStr("REDIS_URL", ""),
		RedisRequired:    p.bool("REDIS_REQUIRED", false),
		RedisRetries:     p.int("REDIS_CONNECT_RETRIES", 10),
		RedisRetryDelay:  p.duration("REDIS_CONNECT_DELAY", time.Second),
		RedisDialTimeout: p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),

		CORSAllowOrigins: envStr("CORS_ALLOW_ORIGINS", "*"),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	// At least one connect attempt, and a minimum delay so a misconfigured value
	// cannot spin against a dead broker.
	if cfg.RedisRetries < 1 {
		cfg.RedisRetries = 1
	}
	if cfg.RedisRetryDelay < 100*time.Millisecond {
		cfg.RedisRetryDelay = 100 * time.Millisecond
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when SERVER_ENV is "development".
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

func (c *Config) validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("WS_PORT must be between 1 and 65535"))
	}

	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}

	if c.RedisRequired && c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("REDIS_REQUIRED is set but REDIS_URL is empty"))
	}

	if c.RedisDialTimeout < time.Second {
		errs = append(errs, fmt.Errorf("REDIS_DIAL_TIMEOUT must be at least 1s"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"5s\" or \"500ms\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
