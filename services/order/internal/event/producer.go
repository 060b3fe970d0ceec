package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/order/internal/domain"
)

// SourceOrderService identifies events originating from the order service.
const SourceOrderService = "order-service"

// Producer publishes order events to Kafka.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the order service.
func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderCreated publishes the ORDER_CREATED event that starts the
// order's saga.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	event, err := pkgkafka.NewEvent(contract.OrderCreated.String(), order.ID, contract.AggregateOrder, SourceOrderService, order.Payload())
	if err != nil {
		return fmt.Errorf("create %s event: %w", contract.OrderCreated, err)
	}

	if err := p.kafka.Publish(ctx, contract.OrderEvents, event); err != nil {
		return fmt.Errorf("publish %s event: %w", contract.OrderCreated, err)
	}

	p.logger.DebugContext(ctx, "published ORDER_CREATED event",
		slog.String("order_id", order.ID),
		slog.String("stock_id", order.StockID),
		slog.Int64("quantity", order.Quantity),
	)

	return nil
}

// PublishReply answers cmd with eventType on the order events topic.
func (p *Producer) PublishReply(ctx context.Context, cmd *pkgkafka.Event, eventType contract.EventType, failed bool) error {
	reply := cmd.Reply(eventType.String(), SourceOrderService)
	if failed {
		reply.WithFailure()
	}

	if err := p.kafka.Publish(ctx, contract.OrderEvents, reply); err != nil {
		return fmt.Errorf("publish %s reply: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published "+eventType.String()+" reply",
		slog.String("order_id", reply.AggregateID),
		slog.String("saga_instance_id", reply.SagaInstanceID),
		slog.Bool("failure", failed),
	)

	return nil
}
