package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/domain"
)

// Key layout of the ledger.
const (
	StockKeyPrefix   = "stock:"
	HoldersKeyPrefix = "reservations:"
	ActiveKey        = "active_reservations"
	ExpiryKey        = "reservation:expiry"
)

// reserveScript takes ARGV[2] units from KEYS[1] for holder ARGV[1].
// Returns 2 when the holder already holds a reservation, 1 when reserved,
// 0 when the stock is insufficient.
var reserveScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
	return 2
end
local available = tonumber(redis.call('GET', KEYS[1]) or '0')
local qty = tonumber(ARGV[2])
if available < qty then
	return 0
end
redis.call('DECRBY', KEYS[1], qty)
redis.call('HSET', KEYS[2], ARGV[1], qty)
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1] .. ARGV[5] .. ARGV[4])
return 1
`)

// settleScript drops the reservation of holder ARGV[1] on stock ARGV[2],
// restoring its quantity when ARGV[3] is "1". Returns 0 when none was found.
var settleScript = redis.NewScript(`
local qty = redis.call('HGET', KEYS[2], ARGV[1])
if not qty then
	return 0
end
if ARGV[3] == '1' then
	redis.call('INCRBY', KEYS[1], qty)
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1] .. ARGV[4] .. ARGV[2])
if redis.call('HLEN', KEYS[2]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[2])
end
return 1
`)

// expireScript restores up to ARGV[2] reservations scored at or below
// ARGV[1] and returns the stock ids it touched. The stock and holder keys
// are derived from each member rather than passed in KEYS, so the ledger
// needs a single Redis node; Redis Cluster would reject the cross-slot
// access.
var expireScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local affected = {}
for _, member in ipairs(due) do
	local sep = string.find(member, ARGV[5], 1, true)
	if sep then
		local holder = string.sub(member, 1, sep - 1)
		local stock = string.sub(member, sep + 1)
		local holders = ARGV[4] .. stock
		local qty = redis.call('HGET', holders, holder)
		if qty then
			redis.call('INCRBY', ARGV[3] .. stock, qty)
			redis.call('HDEL', holders, holder)
			if redis.call('HLEN', holders) == 0 then
				redis.call('SREM', KEYS[2], stock)
			end
			table.insert(affected, stock)
		end
	end
	redis.call('ZREM', KEYS[1], member)
end
return affected
`)

// clearScript deletes KEYS[1] unless stock ARGV[1] is in the active set.
// Returns -1 when reserved, otherwise the number of deleted keys.
var clearScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return -1
end
return redis.call('DEL', KEYS[1])
`)

// Ledger implements repository.Ledger with Lua scripts, one atomic step each.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewLedger creates a ledger whose reservations expire after ttl.
func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func stockKey(stockID string) string   { return StockKeyPrefix + stockID }
func holdersKey(stockID string) string { return HoldersKeyPrefix + stockID }

func (l *Ledger) keys(stockID string) []string {
	return []string{stockKey(stockID), holdersKey(stockID), ActiveKey, ExpiryKey}
}

// Reserve takes quantity from the stock for holderID. Reserving again for the
// same holder is a no-op reported as domain.ReserveHeld.
func (l *Ledger) Reserve(ctx context.Context, holderID, stockID string, quantity int64) (domain.ReserveOutcome, error) {
	if err := domain.ValidateHolder(holderID); err != nil {
		return domain.ReserveInsufficient, err
	}
	expiresAt := l.now().Add(l.ttl).Unix()

	res, err := reserveScript.Run(ctx, l.client, l.keys(stockID),
		holderID, quantity, expiresAt, stockID, domain.HolderSeparator,
	).Int()
	if err != nil {
		return domain.ReserveInsufficient, fmt.Errorf("redis reserve %s for %s: %w", stockID, holderID, err)
	}

	switch res {
	case 1:
		return domain.ReserveCreated, nil
	case 2:
		return domain.ReserveHeld, nil
	default:
		return domain.ReserveInsufficient, nil
	}
}

// Release returns the holder's reserved quantity to the stock.
func (l *Ledger) Release(ctx context.Context, holderID, stockID string) (bool, error) {
	return l.settle(ctx, holderID, stockID, true)
}

// Commit consumes the holder's reservation.
func (l *Ledger) Commit(ctx context.Context, holderID, stockID string) (bool, error) {
	return l.settle(ctx, holderID, stockID, false)
}

func (l *Ledger) settle(ctx context.Context, holderID, stockID string, restore bool) (bool, error) {
	flag := "0"
	if restore {
		flag = "1"
	}
	res, err := settleScript.Run(ctx, l.client, l.keys(stockID),
		holderID, stockID, flag, domain.HolderSeparator,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis settle %s for %s: %w", stockID, holderID, err)
	}
	return res == 1, nil
}

// ExpireDue restores expired reservations.
func (l *Ledger) ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := expireScript.Run(ctx, l.client, []string{ExpiryKey, ActiveKey},
		strconv.FormatInt(now.Unix(), 10), limit, StockKeyPrefix, HoldersKeyPrefix, domain.HolderSeparator,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis expire reservations: %w", err)
	}
	return ids, nil
}

// Increase adds amount to the stock.
func (l *Ledger) Increase(ctx context.Context, stockID string, amount int64) (int64, error) {
	n, err := l.client.IncrBy(ctx, stockKey(stockID), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis increase stock %s: %w", stockID, err)
	}
	return n, nil
}

// Available returns the unreserved quantity, zero for an unknown stock.
func (l *Ledger) Available(ctx context.Context, stockID string) (int64, error) {
	n, err := l.client.Get(ctx, stockKey(stockID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get stock %s: %w", stockID, err)
	}
	return n, nil
}

// Clear deletes the stock unless it is reserved.
func (l *Ledger) Clear(ctx context.Context, stockID string) error {
	res, err := clearScript.Run(ctx, l.client, []string{stockKey(stockID), ActiveKey}, stockID).Int()
	if err != nil {
		return fmt.Errorf("redis clear stock %s: %w", stockID, err)
	}
	switch res {
	case -1:
		return domain.ErrStockReserved
	case 0:
		return apperrors.NotFound("stock", stockID)
	default:
		return nil
	}
}
