package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/ali449/saga-orchestrator/pkg/config"
)

// Config holds all configuration for the payment service.
type Config struct {
	pkgconfig.Infra

	HTTPPort   int    `env:"PAYMENT_HTTP_PORT" envDefault:"8005"`
	PostgresDB string `env:"PAYMENT_DB_NAME" envDefault:"payment_db"`

	// Kafka
	ConsumerRetryAttempts   int `env:"CONSUMER_RETRY_ATTEMPTS" envDefault:"3"`
	ConsumerRetryIntervalMs int `env:"CONSUMER_RETRY_INTERVAL_MS" envDefault:"1000"`
	IdempotencyTTLHours     int `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Pricing
	UnitPriceCents int64  `env:"PAYMENT_UNIT_PRICE_CENTS" envDefault:"100"`
	Currency       string `env:"PAYMENT_CURRENCY" envDefault:"USD"`

	// Mock provider
	ProviderDelayMs   int   `env:"PAYMENT_PROVIDER_DELAY_MS" envDefault:"50"`
	ProviderMaxAmount int64 `env:"PAYMENT_PROVIDER_MAX_AMOUNT_CENTS" envDefault:"0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load payment config: %w", err)
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
	if c.IdempotencyTTLHours < 1 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be positive, got %d", c.IdempotencyTTLHours)
	}
	if c.UnitPriceCents < 0 {
		return fmt.Errorf("PAYMENT_UNIT_PRICE_CENTS must not be negative, got %d", c.UnitPriceCents)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("PAYMENT_CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	if c.ProviderDelayMs < 0 || c.ProviderMaxAmount < 0 || c.ConsumerRetryIntervalMs < 0 {
		return fmt.Errorf("provider and retry settings must not be negative")
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

// ProviderDelay is the simulated provider latency.
func (c *Config) ProviderDelay() time.Duration {
	return time.Duration(c.ProviderDelayMs) * time.Millisecond
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	pg := c.Postgres(c.PostgresDB)
	return pg.DSN()
}
