package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
)

// StatusKeyPrefix prefixes the cached snapshot of each order.
const StatusKeyPrefix = "order:saga:"

// putScript stores ARGV[1] unless the cached snapshot belongs to the same
// saga instance (ARGV[2]) and is terminal while the new one (ARGV[3]) is not.
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and ARGV[3] == '0' then
  local c = cjson.decode(cur)
  if c.saga_instance_id == ARGV[2] and (c.status == 'COMPLETED' or c.status == 'FAILED') then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return 1
`)

// StatusCache implements repository.StatusCache in Redis.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache creates a cache keeping each snapshot for ttl.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// Put stores the snapshot under its aggregate id.
func (c *StatusCache) Put(ctx context.Context, snap *contract.Snapshot) (bool, error) {
	data, err := snap.Marshal()
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}

	terminal := "0"
	if isTerminal(snap.Status) {
		terminal = "1"
	}

	stored, err := putScript.Run(ctx, c.client,
		[]string{StatusKeyPrefix + snap.AggregateID},
		data, snap.SagaInstanceID, terminal, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cache snapshot %s: %w", snap.AggregateID, err)
	}
	return stored == 1, nil
}

// Get returns the latest snapshot cached for the order.
func (c *StatusCache) Get(ctx context.Context, aggregateID string) (*contract.Snapshot, error) {
	data, err := c.client.Get(ctx, StatusKeyPrefix+aggregateID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("saga status", aggregateID)
		}
		return nil, fmt.Errorf("get snapshot %s: %w", aggregateID, err)
	}
	return contract.UnmarshalSnapshot(data)
}

func isTerminal(status string) bool {
	return status == "COMPLETED" || status == "FAILED"
}
