package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
)

// StockService defines the operations the consumer drives.
type StockService interface {
	ReserveStock(ctx context.Context, cmd *pkgkafka.Event) error
	ReleaseStock(ctx context.Context, cmd *pkgkafka.Event) error
	CompleteOrder(ctx context.Context, evt *pkgkafka.Event) error
}

// Consumer dispatches orchestrator commands and saga events to the stock service.
type Consumer struct {
	service StockService
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the inventory service.
func NewConsumer(service StockService, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// Handle routes one message by its type. Commands the inventory service does
// not own are rejected, saga events other than completion are ignored.
func (c *Consumer) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	if cmd, err := contract.ParseCommandType(evt.EventType); err == nil {
		return c.handleCommand(ctx, cmd, evt)
	}

	if contract.EventType(evt.EventType) == contract.SagaCompleted {
		c.logger.InfoContext(ctx, "processing saga completion",
			slog.String("aggregate_id", evt.AggregateID),
			slog.String("saga_instance_id", evt.SagaInstanceID),
		)
		return c.service.CompleteOrder(ctx, evt)
	}

	c.logger.DebugContext(ctx, "ignoring event",
		slog.String("event_type", evt.EventType),
		slog.String("aggregate_id", evt.AggregateID),
	)
	return nil
}

func (c *Consumer) handleCommand(ctx context.Context, cmd contract.CommandType, evt *pkgkafka.Event) error {
	c.logger.InfoContext(ctx, "processing command",
		slog.String("command", cmd.String()),
		slog.String("aggregate_id", evt.AggregateID),
		slog.String("saga_instance_id", evt.SagaInstanceID),
	)

	switch cmd {
	case contract.ReserveStock:
		return c.service.ReserveStock(ctx, evt)
	case contract.ReleaseStock:
		return c.service.ReleaseStock(ctx, evt)
	default:
		return pkgkafka.Permanent(fmt.Errorf("inventory service cannot handle command %s", cmd))
	}
}

// ConsumerSettings configures the inventory consumer.
type ConsumerSettings struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff time.Duration
	DLQ          pkgkafka.DeadLetterPublisher
}

// Topics consumed by the inventory service.
var Topics = []string{contract.InventoryCommands, contract.OrchestratorEvents}

// NewKafkaConsumer builds the consumer of Topics. Messages already handled
// according to store are skipped.
func NewKafkaConsumer(s ConsumerSettings, c *Consumer, store pkgkafka.IdempotencyStore, logger *slog.Logger) *pkgkafka.Consumer {
	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:      s.Brokers,
		GroupID:      contract.InventoryGroup,
		Topics:       Topics,
		MinBytes:     1,
		MaxBytes:     10e6,
		MaxRetries:   s.MaxRetries,
		RetryBackoff: s.RetryBackoff,
		DLQ:          s.DLQ,
	}, pkgkafka.IdempotentHandler(store, c.Handle, logger), logger)
}
