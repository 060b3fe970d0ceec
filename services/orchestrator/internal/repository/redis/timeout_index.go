package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TimeoutIndexKey is the sorted set of pending timeout event ids scored by
// deadline in Unix milliseconds.
const TimeoutIndexKey = "timeout:events"

// popDueScript removes and returns up to ARGV[2] members scored at or below
// ARGV[1] in one atomic step.
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

// TimeoutIndex implements repository.TimeoutIndex on a Redis sorted set.
type TimeoutIndex struct {
	client *redis.Client
	key    string
}

// NewTimeoutIndex creates a timeout index stored under TimeoutIndexKey.
func NewTimeoutIndex(client *redis.Client) *TimeoutIndex {
	return &TimeoutIndex{client: client, key: TimeoutIndexKey}
}

// Add indexes the event id at its deadline, replacing any previous score.
func (i *TimeoutIndex) Add(ctx context.Context, eventID string, deadline time.Time) error {
	err := i.client.ZAdd(ctx, i.key, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: eventID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd timeout %s: %w", eventID, err)
	}
	return nil
}

// Remove drops the event id from the index.
func (i *TimeoutIndex) Remove(ctx context.Context, eventID string) error {
	if err := i.client.ZRem(ctx, i.key, eventID).Err(); err != nil {
		return fmt.Errorf("redis zrem timeout %s: %w", eventID, err)
	}
	return nil
}

// PopDue atomically removes and returns due event ids, earliest first.
func (i *TimeoutIndex) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := popDueScript.Run(ctx, i.client, []string{i.key},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis pop due timeouts: %w", err)
	}
	return ids, nil
}
