package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
)

// SourcePaymentService identifies events originating from the payment service.
const SourcePaymentService = "payment-service"

// Producer publishes the payment service's replies to orchestrator commands.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates a new reply producer for the payment service.
func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReply answers cmd with eventType on the payment events topic.
func (p *Producer) PublishReply(ctx context.Context, cmd *pkgkafka.Event, eventType contract.EventType, failed bool) error {
	reply := cmd.Reply(eventType.String(), SourcePaymentService)
	if failed {
		reply.WithFailure()
	}

	if err := p.kafka.Publish(ctx, contract.PaymentEvents, reply); err != nil {
		return fmt.Errorf("publish %s reply: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published "+eventType.String()+" reply",
		slog.String("aggregate_id", reply.AggregateID),
		slog.String("saga_instance_id", reply.SagaInstanceID),
		slog.Bool("failure", failed),
	)

	return nil
}
