package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/ali449/saga-orchestrator/pkg/config"
)

// Config holds all configuration for the order service.
type Config struct {
	pkgconfig.Infra

	HTTPPort   int    `env:"ORDER_HTTP_PORT" envDefault:"8004"`
	PostgresDB string `env:"ORDER_DB_NAME" envDefault:"order_db"`

	// Saga status cache
	StatusTTLHours int `env:"ORDER_STATUS_TTL_HOURS" envDefault:"24"`

	// Kafka
	ConsumerRetryAttempts   int `env:"CONSUMER_RETRY_ATTEMPTS" envDefault:"3"`
	ConsumerRetryIntervalMs int `env:"CONSUMER_RETRY_INTERVAL_MS" envDefault:"1000"`
	IdempotencyTTLHours     int `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Order submission rate limit, per client IP
	RateLimitRPS   float64 `env:"ORDER_RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"ORDER_RATE_LIMIT_BURST" envDefault:"20"`

	// Pprof
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load order config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if err := c.Infra.Validate(); err != nil {
		return err
	}
	if c.ConsumerRetryAttempts < 1 {
		return fmt.Errorf("CONSUMER_RETRY_ATTEMPTS must be positive, got %d", c.ConsumerRetryAttempts)
	}
	if c.ConsumerRetryIntervalMs < 0 {
		return fmt.Errorf("CONSUMER_RETRY_INTERVAL_MS must not be negative, got %d", c.ConsumerRetryIntervalMs)
	}
	if c.IdempotencyTTLHours < 1 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be positive, got %d", c.IdempotencyTTLHours)
	}
	if c.StatusTTLHours < 1 {
		return fmt.Errorf("ORDER_STATUS_TTL_HOURS must be positive, got %d", c.StatusTTLHours)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("ORDER_RATE_LIMIT_RPS must be positive, got %f", c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("ORDER_RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}
	return nil
}

// ConsumerRetryInterval is the fixed delay between two handler attempts.
func (c *Config) ConsumerRetryInterval() time.Duration {
	return time.Duration(c.ConsumerRetryIntervalMs) * time.Millisecond
}

// IdempotencyTTL is how long a handled command id is remembered.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// StatusTTL is how long a cached saga snapshot is kept.
func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.StatusTTLHours) * time.Hour
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	pg := c.Postgres(c.PostgresDB)
	return pg.DSN()
}
