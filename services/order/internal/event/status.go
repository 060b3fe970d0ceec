package event

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/services/order/internal/repository"
)

// StatusSubscriber caches the saga snapshots broadcast on the status channel.
type StatusSubscriber struct {
	client *redis.Client
	cache  repository.StatusCache
	logger *slog.Logger
}

// NewStatusSubscriber creates a subscriber that feeds cache.
func NewStatusSubscriber(client *redis.Client, cache repository.StatusCache, logger *slog.Logger) *StatusSubscriber {
	return &StatusSubscriber{client: client, cache: cache, logger: logger}
}

// Start subscribes to the status channel. It blocks until ctx is canceled.
// ready, when non-nil, is closed once the subscription is confirmed.
func (s *StatusSubscriber) Start(ctx context.Context, ready chan<- struct{}) error {
	sub := s.client.Subscribe(ctx, contract.StatusChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if ready != nil {
		close(ready)
	}

	s.logger.Info("status subscriber started", slog.String("channel", contract.StatusChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("status subscriber stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *StatusSubscriber) handle(ctx context.Context, payload string) {
	snap, err := contract.UnmarshalSnapshot([]byte(payload))
	if err != nil {
		s.logger.Warn("discarding malformed saga status", slog.String("error", err.Error()))
		return
	}
	if snap.Rejected || snap.AggregateID == "" {
		return
	}

	stored, err := s.cache.Put(ctx, snap)
	if err != nil {
		s.logger.Error("failed to cache saga status",
			slog.String("order_id", snap.AggregateID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !stored {
		s.logger.Debug("stale saga status ignored",
			slog.String("order_id", snap.AggregateID),
			slog.String("saga_instance_id", snap.SagaInstanceID),
			slog.String("status", snap.Status),
		)
	}
}
