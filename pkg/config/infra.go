package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/database"
	"github.com/ali449/saga-orchestrator/pkg/tracing"
)

// Infra is the environment every service shares: Postgres server and pool,
// Redis, Kafka, OpenTelemetry and logging. Services embed it and add their
// own HTTP port, database name and domain settings.
type Infra struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"saga"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"saga_secret"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging, zero disables it.
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Validate checks the shared settings. It reports the first problem found.
func (i *Infra) Validate() error {
	switch {
	case i.PostgresHost == "":
		return errors.New("POSTGRES_HOST is required")
	case i.PostgresUser == "":
		return errors.New("POSTGRES_USER is required")
	case i.DBMaxConns < 1:
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", i.DBMaxConns)
	case i.DBMinConns < 0 || i.DBMinConns > i.DBMaxConns:
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", i.DBMinConns)
	case i.RedisHost == "":
		return errors.New("REDIS_HOST is required")
	case len(i.KafkaBrokers) == 0:
		return errors.New("KAFKA_BROKERS is required")
	case i.OTELSampleRate < 0 || i.OTELSampleRate > 1.0:
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", i.OTELSampleRate)
	case i.SlowQueryThresholdMs < 0:
		return fmt.Errorf("LOG_SLOW_QUERY_MS must not be negative, got %d", i.SlowQueryThresholdMs)
	}
	return nil
}

// Postgres returns the pool settings for the named database.
func (i *Infra) Postgres(dbName string) database.PostgresConfig {
	return database.PostgresConfig{
		Host:            i.PostgresHost,
		Port:            i.PostgresPort,
		User:            i.PostgresUser,
		Password:        i.PostgresPass,
		DBName:          dbName,
		SSLMode:         i.PostgresSSL,
		MaxConns:        i.DBMaxConns,
		MinConns:        i.DBMinConns,
		MaxConnLifetime: time.Duration(i.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(i.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

func (i *Infra) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     i.RedisHost,
		Port:     i.RedisPort,
		Password: i.RedisPassword,
		DB:       i.RedisDB,
		PoolSize: i.RedisPoolSize,
	}
}

// Tracing returns the exporter settings for one service.
func (i *Infra) Tracing(service, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    i.Environment,
		OTLPEndpoint:   i.OTELEndpoint,
		SampleRate:     i.OTELSampleRate,
		Enabled:        i.OTELEnabled,
	}
}

func (i *Infra) SlowQueryThreshold() time.Duration {
	return time.Duration(i.SlowQueryThresholdMs) * time.Millisecond
}
