package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/ali449/saga-orchestrator/pkg/retry"
)

var redisCommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "redis_command_errors_total",
	Help: "Redis commands that returned an error other than a cache miss",
}, []string{"command"})

// RedisConfig holds Redis connection settings. Zero PoolSize and DialTimeout
// fall back to go-redis defaults.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedisClient connects and pings Redis with the startup retry policy
// shared with Postgres. Failed commands are logged and counted.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	client.AddHook(errorHook{logger: logger})

	err := retry.Do(ctx, logger, startupPolicy, "redis ping failed, retrying", func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type errorHook struct {
	logger *slog.Logger
}

func (h errorHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(ctx, cmd, err)
		return err
	}
}

func (h errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			h.observe(ctx, cmd, cmd.Err())
		}
		return err
	}
}

func (h errorHook) observe(ctx context.Context, cmd redis.Cmder, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	redisCommandErrors.WithLabelValues(cmd.Name()).Inc()
	h.logger.WarnContext(ctx, "redis command failed",
		slog.String("command", cmd.Name()),
		slog.String("error", err.Error()),
	)
}
