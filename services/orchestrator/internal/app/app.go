package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/bootstrap"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/retry"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/config"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/event"
	handler "github.com/ali449/saga-orchestrator/services/orchestrator/internal/handler/http"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository/postgres"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository/redis"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/service"
	"github.com/ali449/saga-orchestrator/services/orchestrator/migrations"
)

const serviceName = "saga-orchestrator"

// App runs the saga orchestrator: the event consumers, the outbox relay,
// the timeout poller and the saga query API.
type App struct {
	infra    *bootstrap.Infra
	logger   *slog.Logger
	server   *http.Server
	timeouts *service.TimeoutService
	workers  []bootstrap.Worker
}

// NewApp connects the shared infrastructure and wires the engine and the
// coordinator around one unit of work, outbox relay and timeout service.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Saga definitions are fixed for the lifetime of the process.
	registry, err := domain.NewRegistry(domain.OrderStockSaga(cfg.WorkflowTimeout()))
	if err != nil {
		return nil, fmt.Errorf("build saga registry: %w", err)
	}

	infra, err := bootstrap.Connect(ctx, bootstrap.Options{
		Service:    serviceName,
		Env:        cfg.Infra,
		Database:   cfg.PostgresDB,
		Migrations: migrations.FS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", serviceName, err)
	}

	outbound := pkgkafka.NewBreakerPublisher(infra.Producer, pkgkafka.BreakerConfig{
		Name:         "saga-outbox",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}, logger)

	uow := postgres.NewUnitOfWork(infra.Pool)
	status := redis.NewStatusPublisher(infra.Redis)
	relay := service.NewRelay(uow, outbound, infra.DLQ, service.RelayConfig{
		PollInterval: time.Duration(cfg.OutboxPollIntervalMs) * time.Millisecond,
		BatchSize:    cfg.OutboxBatchSize,
		Retry:        retry.Fixed(cfg.OutboxRetryAttempts, cfg.OutboxRetryInterval()),
	}, logger)
	timeouts := service.NewTimeoutService(postgres.NewTimeoutRepository(infra.Pool), redis.NewTimeoutIndex(infra.Redis), service.TimeoutConfig{
		PollInterval: time.Duration(cfg.TimeoutPollIntervalMs) * time.Millisecond,
		BatchSize:    cfg.TimeoutPollBatch,
	}, logger)
	engine := service.NewEngine(registry, uow, timeouts, status, relay, logger)
	coordinator := service.NewCoordinator(registry, uow, timeouts, status, relay, logger)
	relay.SetFailureHandler(coordinator)
	timeouts.SetFailureHandler(coordinator)

	workers := []bootstrap.Worker{
		{Name: "outbox relay", Run: relay.Run},
		{Name: "timeout poller", Run: timeouts.Run},
	}
	consumers := event.NewConsumers(event.ConsumerSettings{
		Brokers:      cfg.KafkaBrokers,
		MaxRetries:   cfg.ConsumerRetryAttempts,
		RetryBackoff: cfg.ConsumerRetryInterval(),
		DLQ:          infra.DLQ,
		OnExhausted:  coordinator.OnConsumerExhausted,
	}, event.NewRouter(engine, coordinator, logger), logger)
	for _, c := range consumers {
		workers = append(workers, bootstrap.Worker{Name: "kafka consumer", Run: c.Start})
		infra.OnShutdown("kafka consumer", c.Close)
	}

	queries := service.NewQueryService(postgres.NewInstanceRepository(infra.Pool), registry)
	return &App{
		infra:    infra,
		logger:   logger,
		server:   bootstrap.NewServer(cfg.HTTPPort, handler.NewRouter(queries, infra.Health, logger)),
		timeouts: timeouts,
		workers:  workers,
	}, nil
}

// Run restores pending timeouts into the index, then serves until ctx is
// canceled or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	restored, err := a.timeouts.Recover(ctx)
	if err != nil {
		return errors.Join(fmt.Errorf("recover timeouts: %w", err), a.infra.Shutdown(nil))
	}
	a.logger.Info("pending timeouts restored", slog.Int("count", restored))

	return a.infra.Serve(ctx, a.server, a.workers...)
}
