package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/bootstrap"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/payment/internal/config"
	"github.com/ali449/saga-orchestrator/services/payment/internal/event"
	handler "github.com/ali449/saga-orchestrator/services/payment/internal/handler/http"
	"github.com/ali449/saga-orchestrator/services/payment/internal/provider/mock"
	"github.com/ali449/saga-orchestrator/services/payment/internal/repository/postgres"
	"github.com/ali449/saga-orchestrator/services/payment/internal/service"
	"github.com/ali449/saga-orchestrator/services/payment/migrations"
)

const serviceName = "payment-service"

// App runs the payment participant: the charge and refund consumer and the
// payment query API.
type App struct {
	infra    *bootstrap.Infra
	server   *http.Server
	consumer *pkgkafka.Consumer
}

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

	provider := mock.NewProvider(cfg.ProviderDelay(), cfg.ProviderMaxAmount)
	logger.Info("payment provider configured", slog.String("provider", provider.Name()))

	replies := pkgkafka.NewBreakerPublisher(infra.Producer, pkgkafka.DefaultBreakerConfig("payment-replies"), logger)
	payments := service.NewPaymentService(
		postgres.NewPaymentRepository(infra.Pool),
		provider,
		event.NewProducer(replies, logger),
		service.Pricing{UnitPrice: cfg.UnitPriceCents, Currency: cfg.Currency},
		logger,
	)

	// Processed command ids live in Redis.
	consumer := event.NewKafkaConsumer(event.ConsumerSettings{
		Brokers:      cfg.KafkaBrokers,
		MaxRetries:   cfg.ConsumerRetryAttempts,
		RetryBackoff: cfg.ConsumerRetryInterval(),
		DLQ:          infra.DLQ,
	},
		event.NewConsumer(payments, logger),
		pkgkafka.NewRedisIdempotencyStore(infra.Redis, "payment:processed:", cfg.IdempotencyTTL()),
		logger,
	)
	infra.OnShutdown("kafka consumer", consumer.Close)

	return &App{
		infra:    infra,
		server:   bootstrap.NewServer(cfg.HTTPPort, handler.NewRouter(payments, infra.Health, logger)),
		consumer: consumer,
	}, nil
}

// Run serves until ctx is canceled or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	return a.infra.Serve(ctx, a.server, bootstrap.Worker{Name: "kafka consumer", Run: a.consumer.Start})
}
