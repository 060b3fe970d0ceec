package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/ali449/saga-orchestrator/pkg/config"
)

// Config holds all configuration for the saga orchestrator.
type Config struct {
	pkgconfig.Infra

	HTTPPort   int    `env:"ORCHESTRATOR_HTTP_PORT" envDefault:"8010"`
	PostgresDB string `env:"ORCHESTRATOR_DB_NAME" envDefault:"orchestrator_db"`

	// Saga workflow
	WorkflowTimeoutMs int `env:"SAGA_WORKFLOW_TIMEOUT_MS" envDefault:"60000"`

	// Outbox relay
	OutboxRetryAttempts   int `env:"OUTBOX_RETRY_ATTEMPTS" envDefault:"3"`
	OutboxRetryIntervalMs int `env:"OUTBOX_RETRY_INTERVAL_MS" envDefault:"1000"`
	OutboxPollIntervalMs  int `env:"OUTBOX_POLL_INTERVAL_MS" envDefault:"500"`
	OutboxBatchSize       int `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Inbound consumers
	ConsumerRetryAttempts   int `env:"CONSUMER_RETRY_ATTEMPTS" envDefault:"3"`
	ConsumerRetryIntervalMs int `env:"CONSUMER_RETRY_INTERVAL_MS" envDefault:"1000"`

	// Timeout poller
	TimeoutPollIntervalMs int `env:"TIMEOUT_POLL_INTERVAL_MS" envDefault:"2000"`
	TimeoutPollBatch      int `env:"TIMEOUT_POLL_BATCH" envDefault:"500"`

	// Circuit breaker around outbound publication
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"10"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load orchestrator config: %w", err)
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
	if c.WorkflowTimeoutMs < 0 {
		return fmt.Errorf("SAGA_WORKFLOW_TIMEOUT_MS must not be negative, got %d", c.WorkflowTimeoutMs)
	}
	for name, v := range map[string]int{
		"OUTBOX_RETRY_ATTEMPTS":    c.OutboxRetryAttempts,
		"OUTBOX_POLL_INTERVAL_MS":  c.OutboxPollIntervalMs,
		"OUTBOX_BATCH_SIZE":        c.OutboxBatchSize,
		"CONSUMER_RETRY_ATTEMPTS":  c.ConsumerRetryAttempts,
		"TIMEOUT_POLL_INTERVAL_MS": c.TimeoutPollIntervalMs,
		"TIMEOUT_POLL_BATCH":       c.TimeoutPollBatch,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.OutboxRetryIntervalMs < 0 || c.ConsumerRetryIntervalMs < 0 {
		return fmt.Errorf("retry intervals must not be negative")
	}
	return nil
}

// WorkflowTimeout is the deadline of a saga instance. Zero disables it.
func (c *Config) WorkflowTimeout() time.Duration {
	return time.Duration(c.WorkflowTimeoutMs) * time.Millisecond
}

// OutboxRetryInterval is the fixed delay between two publish attempts.
func (c *Config) OutboxRetryInterval() time.Duration {
	return time.Duration(c.OutboxRetryIntervalMs) * time.Millisecond
}

// ConsumerRetryInterval is the fixed delay between two handler attempts.
func (c *Config) ConsumerRetryInterval() time.Duration {
	return time.Duration(c.ConsumerRetryIntervalMs) * time.Millisecond
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	pg := c.Postgres(c.PostgresDB)
	return pg.DSN()
}
