package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/bootstrap"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/config"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/event"
	handler "github.com/ali449/saga-orchestrator/services/inventory/internal/handler/http"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/repository/postgres"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/repository/redis"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/service"
	"github.com/ali449/saga-orchestrator/services/inventory/migrations"
)

const serviceName = "inventory-service"

// App runs the inventory participant: the stock command consumer, the
// reservation expiry job and the stock query API.
type App struct {
	infra   *bootstrap.Infra
	server  *http.Server
	workers []bootstrap.Worker
}

// NewApp connects the shared infrastructure and builds the stock service
// around the Redis reservation ledger.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	infra, err := bootstrap.Connect(ctx, bootstrap.Options{
		Service:    serviceName,
		Env:        cfg.Infra,
		Database:   cfg.PostgresDB,
		Migrations: migrations.FS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", serviceName, err)
	}

	replies := pkgkafka.NewBreakerPublisher(infra.Producer, pkgkafka.DefaultBreakerConfig("inventory-replies"), logger)
	stockService := service.NewStockService(
		postgres.NewStockOrderRepository(infra.Pool),
		redis.NewLedger(infra.Redis, cfg.ReservationTTL()),
		event.NewProducer(replies, logger),
		service.ExpiryConfig{
			Interval: cfg.ReservationCleanupInterval(),
			Limit:    cfg.ReservationCleanupLimit,
		},
		logger,
	)

	consumer := event.NewKafkaConsumer(event.ConsumerSettings{
		Brokers:      cfg.KafkaBrokers,
		MaxRetries:   cfg.ConsumerRetryAttempts,
		RetryBackoff: cfg.ConsumerRetryInterval(),
		DLQ:          infra.DLQ,
	},
		event.NewConsumer(stockService, logger),
		pkgkafka.NewRedisIdempotencyStore(infra.Redis, "inventory:processed:", cfg.IdempotencyTTL()),
		logger,
	)
	infra.OnShutdown("kafka consumer", consumer.Close)

	return &App{
		infra:  infra,
		server: bootstrap.NewServer(cfg.HTTPPort, handler.NewRouter(stockService, infra.Health, logger)),
		workers: []bootstrap.Worker{
			{Name: "kafka consumer", Run: consumer.Start},
			{Name: "reservation expiry", Run: stockService.RunExpiry},
		},
	}, nil
}

// Run blocks until ctx is canceled or the HTTP server fails, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	return a.infra.Serve(ctx, a.server, a.workers...)
}
