package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
)

// SourceInventoryService identifies events originating from the inventory service.
const SourceInventoryService = "inventory-service"

// Producer publishes the inventory service's replies to orchestrator commands.
type Producer struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

// NewProducer creates a new reply producer for the inventory service.
func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishReply answers cmd with eventType on the inventory events topic.
// A failed reply carries the failure flag.
func (p *Producer) PublishReply(ctx context.Context, cmd *pkgkafka.Event, eventType contract.EventType, failed bool) error {
	reply := cmd.Reply(eventType.String(), SourceInventoryService)
	if failed {
		reply.WithFailure()
	}

	if err := p.publisher.Publish(ctx, contract.InventoryEvents, reply); err != nil {
		return fmt.Errorf("publish %s reply: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published reply",
		slog.String("event_type", reply.EventType),
		slog.String("aggregate_id", reply.AggregateID),
		slog.String("saga_instance_id", reply.SagaInstanceID),
		slog.Bool("failure", failed),
	)
	return nil
}
