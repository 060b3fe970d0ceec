package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/ali449/saga-orchestrator/pkg/config"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/domain"
)

// reservationMargin is added to the saga budget when checking the reservation TTL.
const reservationMargin = 30 * time.Second

// Config holds all configuration for the inventory service.
type Config struct {
	pkgconfig.Infra

	HTTPPort   int    `env:"INVENTORY_HTTP_PORT" envDefault:"8007"`
	PostgresDB string `env:"INVENTORY_DB_NAME" envDefault:"inventory_db"`

	// Kafka
	ConsumerRetryAttempts   int `env:"CONSUMER_RETRY_ATTEMPTS" envDefault:"3"`
	ConsumerRetryIntervalMs int `env:"CONSUMER_RETRY_INTERVAL_MS" envDefault:"1000"`
	IdempotencyTTLHours     int `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Saga budget the reservation TTL must outlive.
	WorkflowTimeoutMs     int `env:"SAGA_WORKFLOW_TIMEOUT_MS" envDefault:"60000"`
	OutboxRetryAttempts   int `env:"OUTBOX_RETRY_ATTEMPTS" envDefault:"3"`
	OutboxRetryIntervalMs int `env:"OUTBOX_RETRY_INTERVAL_MS" envDefault:"1000"`

	// Reservations
	ReservationTTLSeconds        int `env:"RESERVATION_TTL_SECONDS" envDefault:"93"`
	ReservationCleanupIntervalMs int `env:"RESERVATION_CLEANUP_INTERVAL_MS" envDefault:"20000"`
	ReservationCleanupLimit      int `env:"RESERVATION_CLEANUP_LIMIT" envDefault:"100"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load inventory config: %w", err)
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
	for name, v := range map[string]int{
		"CONSUMER_RETRY_ATTEMPTS":         c.ConsumerRetryAttempts,
		"IDEMPOTENCY_TTL_HOURS":           c.IdempotencyTTLHours,
		"RESERVATION_TTL_SECONDS":         c.ReservationTTLSeconds,
		"RESERVATION_CLEANUP_INTERVAL_MS": c.ReservationCleanupIntervalMs,
		"RESERVATION_CLEANUP_LIMIT":       c.ReservationCleanupLimit,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.WorkflowTimeoutMs < 0 || c.OutboxRetryAttempts < 0 || c.OutboxRetryIntervalMs < 0 || c.ConsumerRetryIntervalMs < 0 {
		return fmt.Errorf("saga timeout and retry settings must not be negative")
	}
	if floor := c.MinReservationTTL(); c.ReservationTTL() < floor {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be at least %s, got %s", floor, c.ReservationTTL())
	}
	return nil
}

// ReservationTTL is how long a reservation is held before it expires.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}

// MinReservationTTL is the shortest TTL that outlives a saga that times out
// after exhausting its publish retries.
func (c *Config) MinReservationTTL() time.Duration {
	return domain.ReservationTTL(
		time.Duration(c.WorkflowTimeoutMs)*time.Millisecond,
		c.OutboxRetryAttempts,
		time.Duration(c.OutboxRetryIntervalMs)*time.Millisecond,
		reservationMargin,
	)
}

// ReservationCleanupInterval is the period of the expiry job.
func (c *Config) ReservationCleanupInterval() time.Duration {
	return time.Duration(c.ReservationCleanupIntervalMs) * time.Millisecond
}

// ConsumerRetryInterval is the fixed delay between two handler attempts.
func (c *Config) ConsumerRetryInterval() time.Duration {
	return time.Duration(c.ConsumerRetryIntervalMs) * time.Millisecond
}

// IdempotencyTTL is how long a handled message id is remembered.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	pg := c.Postgres(c.PostgresDB)
	return pg.DSN()
}
