package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ali449/saga-orchestrator/pkg/contract"
)

// StatusPublisher implements repository.StatusPublisher with Redis pub/sub.
type StatusPublisher struct {
	client  *redis.Client
	channel string
}

// NewStatusPublisher creates a publisher writing to contract.StatusChannel.
func NewStatusPublisher(client *redis.Client) *StatusPublisher {
	return &StatusPublisher{client: client, channel: contract.StatusChannel}
}

// Publish broadcasts the snapshot as JSON.
func (p *StatusPublisher) Publish(ctx context.Context, snap *contract.Snapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}
