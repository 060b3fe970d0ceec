package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inventoryConfig struct {
	Infra
	HTTPPort   int    `env:"INVENTORY_HTTP_PORT" envDefault:"8007"`
	PostgresDB string `env:"INVENTORY_DB_NAME" envDefault:"inventory_db"`
}

func validInfra(t *testing.T) Infra {
	t.Helper()
	var cfg inventoryConfig
	require.NoError(t, LoadFrom(&cfg, map[string]string{}))
	return cfg.Infra
}

func TestInfra_EmbeddedDefaults(t *testing.T) {
	var cfg inventoryConfig
	require.NoError(t, LoadFrom(&cfg, map[string]string{
		"KAFKA_BROKERS":     "kafka-0:9092,kafka-1:9092",
		"LOG_SLOW_QUERY_MS": "0",
	}))

	assert.Equal(t, 8007, cfg.HTTPPort)
	assert.Equal(t, "inventory_db", cfg.PostgresDB)
	assert.Equal(t, "localhost", cfg.PostgresHost)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.Equal(t, 6379, cfg.RedisPort)
	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.KafkaBrokers)
	assert.Zero(t, cfg.SlowQueryThreshold())
	assert.NoError(t, cfg.Validate())
}

func TestInfra_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Infra)
		want   string
	}{
		{"missing postgres host", func(i *Infra) { i.PostgresHost = "" }, "POSTGRES_HOST is required"},
		{"missing postgres user", func(i *Infra) { i.PostgresUser = "" }, "POSTGRES_USER is required"},
		{"empty pool", func(i *Infra) { i.DBMaxConns = 0 }, "DB_MAX_CONNS must be positive"},
		{"min above max", func(i *Infra) { i.DBMinConns = i.DBMaxConns + 1 }, "DB_MIN_CONNS must be between"},
		{"missing redis host", func(i *Infra) { i.RedisHost = "" }, "REDIS_HOST is required"},
		{"no brokers", func(i *Infra) { i.KafkaBrokers = nil }, "KAFKA_BROKERS is required"},
		{"sample rate above one", func(i *Infra) { i.OTELSampleRate = 1.5 }, "OTEL_SAMPLE_RATE must be between 0.0 and 1.0"},
		{"negative slow query", func(i *Infra) { i.SlowQueryThresholdMs = -1 }, "LOG_SLOW_QUERY_MS must not be negative"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			infra := validInfra(t)
			tc.mutate(&infra)

			err := infra.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestInfra_Postgres(t *testing.T) {
	infra := Infra{
		PostgresHost:          "db",
		PostgresPort:          5433,
		PostgresUser:          "saga",
		PostgresPass:          "secret",
		PostgresSSL:           "require",
		DBMaxConns:            10,
		DBMinConns:            2,
		DBMaxConnLifetimeMins: 60,
		DBMaxConnIdleTimeMins: 5,
	}

	pg := infra.Postgres("orchestrator_db")

	assert.Equal(t, "postgres://saga:secret@db:5433/orchestrator_db?sslmode=require", pg.DSN())
	assert.Equal(t, int32(10), pg.MaxConns)
	assert.Equal(t, time.Hour, pg.MaxConnLifetime)
	assert.Equal(t, 5*time.Minute, pg.MaxConnIdleTime)
}

func TestInfra_RedisAndTracing(t *testing.T) {
	infra := Infra{
		Environment:    "staging",
		RedisHost:      "cache",
		RedisPort:      6380,
		RedisDB:        2,
		RedisPoolSize:  20,
		OTELEnabled:    true,
		OTELEndpoint:   "collector:4318",
		OTELSampleRate: 0.25,
	}

	rc := infra.Redis()
	assert.Equal(t, "cache:6380", rc.Addr())
	assert.Equal(t, 2, rc.DB)
	assert.Equal(t, 20, rc.PoolSize)

	tc := infra.Tracing("payment-service", "0.1.0")
	assert.Equal(t, "payment-service", tc.ServiceName)
	assert.Equal(t, "staging", tc.Environment)
	assert.Equal(t, "collector:4318", tc.OTLPEndpoint)
	assert.InDelta(t, 0.25, tc.SampleRate, 1e-9)
	assert.True(t, tc.Enabled)
}
