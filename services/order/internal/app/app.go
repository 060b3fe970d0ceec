package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/bootstrap"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/order/internal/config"
	"github.com/ali449/saga-orchestrator/services/order/internal/event"
	handler "github.com/ali449/saga-orchestrator/services/order/internal/handler/http"
	"github.com/ali449/saga-orchestrator/services/order/internal/repository/postgres"
	redisrepo "github.com/ali449/saga-orchestrator/services/order/internal/repository/redis"
	"github.com/ali449/saga-orchestrator/services/order/internal/service"
	"github.com/ali449/saga-orchestrator/services/order/migrations"
)

const serviceName = "order-service"

// App runs the order service: the public order API, the order command
// consumer and the saga status subscriber.
type App struct {
	infra   *bootstrap.Infra
	server  *http.Server
	workers []bootstrap.Worker
}

// NewApp connects the shared infrastructure and builds the order service.
// Redis carries the saga status channel, the status cache and the processed
// command ids.
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

	events := pkgkafka.NewBreakerPublisher(infra.Producer, pkgkafka.DefaultBreakerConfig("order-events"), logger)
	statusCache := redisrepo.NewStatusCache(infra.Redis, cfg.StatusTTL())
	orders := service.NewOrderService(
		postgres.NewOrderRepository(infra.Pool),
		statusCache,
		event.NewProducer(events, logger),
		logger,
	)

	consumer := event.NewKafkaConsumer(event.ConsumerSettings{
		Brokers:      cfg.KafkaBrokers,
		MaxRetries:   cfg.ConsumerRetryAttempts,
		RetryBackoff: cfg.ConsumerRetryInterval(),
		DLQ:          infra.DLQ,
	},
		event.NewConsumer(orders, logger),
		pkgkafka.NewRedisIdempotencyStore(infra.Redis, "order:processed:", cfg.IdempotencyTTL()),
		logger,
	)
	subscriber := event.NewStatusSubscriber(infra.Redis, statusCache, logger)

	// The rate limiter's cleanup loop stops once HTTP has drained.
	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	router := handler.NewRouter(limiterCtx, orders, infra.Health, logger, handler.RouterSettings{
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	infra.OnShutdown("rate limiter", func() error {
		stopLimiter()
		return nil
	})
	infra.OnShutdown("kafka consumer", consumer.Close)

	return &App{
		infra:  infra,
		server: bootstrap.NewServer(cfg.HTTPPort, router),
		workers: []bootstrap.Worker{
			{Name: "kafka consumer", Run: consumer.Start},
			{Name: "status subscriber", Run: func(ctx context.Context) error {
				return subscriber.Start(ctx, nil)
			}},
		},
	}, nil
}

// Run serves until ctx is canceled or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	return a.infra.Serve(ctx, a.server, a.workers...)
}
