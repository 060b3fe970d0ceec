package database

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfig_Addr(t *testing.T) {
	assert.Equal(t, "redis:6379", RedisConfig{Host: "redis", Port: 6379}.Addr())
	assert.Equal(t, "[::1]:6380", RedisConfig{Host: "::1", Port: 6380}.Addr())
}

func newMiniredisClient(t *testing.T, logger *slog.Logger) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), RedisConfig{Host: mr.Host(), Port: port, PoolSize: 2}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisClient_Connects(t *testing.T) {
	mr, client := newMiniredisClient(t, nil)

	require.NoError(t, client.Set(context.Background(), "stock:sku-1", 10, 0).Err())
	got, err := mr.Get("stock:sku-1")
	require.NoError(t, err)
	assert.Equal(t, "10", got)
}

func TestNewRedisClient_ErrorHook(t *testing.T) {
	var buf bytes.Buffer
	mr, client := newMiniredisClient(t, slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	before := testutil.ToFloat64(redisCommandErrors.WithLabelValues("incr"))

	// A miss is not an error.
	require.ErrorIs(t, client.Get(ctx, "reservation:missing").Err(), redis.Nil)
	assert.Empty(t, buf.String())

	mr.Set("stock:sku-2", "not-a-number")
	require.Error(t, client.Incr(ctx, "stock:sku-2").Err())

	assert.InDelta(t, before+1, testutil.ToFloat64(redisCommandErrors.WithLabelValues("incr")), 0.001)
	assert.Contains(t, buf.String(), `"command":"incr"`)
}

func TestNewRedisClient_ErrorHook_Pipeline(t *testing.T) {
	var buf bytes.Buffer
	mr, client := newMiniredisClient(t, slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()
	mr.Set("stock:sku-3", "x")

	before := testutil.ToFloat64(redisCommandErrors.WithLabelValues("decrby"))
	_, err := client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Get(ctx, "reservation:none")
		p.DecrBy(ctx, "stock:sku-3", 1)
		return nil
	})
	require.Error(t, err)

	assert.InDelta(t, before+1, testutil.ToFloat64(redisCommandErrors.WithLabelValues("decrby")), 0.001)
	assert.NotContains(t, buf.String(), `"command":"get"`)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedisClient(ctx, RedisConfig{Host: "127.0.0.1", Port: 1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
