package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
)

// PaymentService defines the command handlers the consumer drives.
type PaymentService interface {
	ProcessPayment(ctx context.Context, cmd *pkgkafka.Event) error
	RefundPayment(ctx context.Context, cmd *pkgkafka.Event) error
}

// Consumer dispatches orchestrator commands to the payment service.
type Consumer struct {
	handlers map[contract.CommandType]pkgkafka.Handler
	logger   *slog.Logger
}

// NewConsumer creates a new command consumer for the payment service.
func NewConsumer(service PaymentService, logger *slog.Logger) *Consumer {
	return &Consumer{
		handlers: map[contract.CommandType]pkgkafka.Handler{
			contract.ProcessPayment: service.ProcessPayment,
			contract.RefundPayment:  service.RefundPayment,
		},
		logger: logger,
	}
}

// Handle routes one command. Anything that is not a payment command is
// rejected without retry.
func (c *Consumer) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	cmd, err := contract.ParseCommandType(evt.EventType)
	if err != nil {
		return pkgkafka.Permanent(err)
	}

	handler, ok := c.handlers[cmd]
	if !ok {
		return pkgkafka.Permanent(fmt.Errorf("payment service cannot handle command %s", cmd))
	}

	c.logger.InfoContext(ctx, "processing command",
		slog.String("command", cmd.String()),
		slog.String("aggregate_id", evt.AggregateID),
		slog.String("saga_instance_id", evt.SagaInstanceID),
	)
	return handler(ctx, evt)
}

// ConsumerSettings configures the payment command consumer.
type ConsumerSettings struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff time.Duration
	DLQ          pkgkafka.DeadLetterPublisher
}

// NewKafkaConsumer builds the consumer of the payment commands topic.
// Commands already handled according to store are skipped.
func NewKafkaConsumer(s ConsumerSettings, c *Consumer, store pkgkafka.IdempotencyStore, logger *slog.Logger) *pkgkafka.Consumer {
	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:      s.Brokers,
		GroupID:      contract.PaymentGroup,
		Topic:        contract.PaymentCommands,
		MinBytes:     1,
		MaxBytes:     10e6,
		MaxRetries:   s.MaxRetries,
		RetryBackoff: s.RetryBackoff,
		DLQ:          s.DLQ,
	}, pkgkafka.IdempotentHandler(store, c.Handle, logger), logger)
}
