// Package bootstrap connects a service to its shared infrastructure, runs
// its HTTP server and background workers, and tears everything down in
// dependency order.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	pkgconfig "github.com/ali449/saga-orchestrator/pkg/config"
	"github.com/ali449/saga-orchestrator/pkg/database"
	"github.com/ali449/saga-orchestrator/pkg/health"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/retry"
	"github.com/ali449/saga-orchestrator/pkg/tracing"
)

const (
	serviceVersion = "0.1.0"

	httpDrainTimeout   = 5 * time.Second
	tracerFlushTimeout = 3 * time.Second
)

// kafkaPingPolicy bounds how long startup waits for brokers before the
// service continues with Kafka reported as degraded.
var kafkaPingPolicy = retry.Exponential(3, time.Second, 4*time.Second)

// Options names the infrastructure one service connects to.
type Options struct {
	Service    string
	Env        pkgconfig.Infra
	Database   string
	Migrations fs.FS
}

// Worker is a background loop that runs until its context is canceled.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

type closer struct {
	name  string
	close func() error
}

// Infra holds the connections shared by a service's components. Health
// already carries the postgres, redis and kafka checks.
type Infra struct {
	Pool     *pgxpool.Pool
	Redis    *goredis.Client
	Producer *pkgkafka.Producer
	DLQ      *pkgkafka.DLQProducer
	Health   *health.Handler

	logger         *slog.Logger
	tracerShutdown func(context.Context) error
	closers        []closer
}

// Connect installs the tracer, opens and migrates the Postgres pool,
// connects Redis and creates the Kafka producers. An unreachable broker is
// logged and tolerated; Postgres and Redis failures abort startup.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Infra, error) {
	i := &Infra{logger: logger, Health: health.NewHandler()}

	shutdown, err := tracing.InitTracer(ctx, opts.Env.Tracing(opts.Service, serviceVersion))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	i.tracerShutdown = shutdown

	if err := i.connectStores(ctx, opts); err != nil {
		i.release()
		return nil, err
	}

	brokers := opts.Env.KafkaBrokers
	i.Producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(brokers), logger)
	i.DLQ = pkgkafka.NewDLQProducer(brokers, logger)
	err = retry.Do(ctx, logger, kafkaPingPolicy, "kafka producer ping failed, retrying", func() error {
		return i.Producer.Ping(ctx)
	})
	if err != nil {
		logger.Warn("kafka unreachable, continuing in degraded mode", slog.String("error", err.Error()))
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", brokers))
	}

	i.Health.RegisterCritical("postgres", func(ctx context.Context) error { return i.Pool.Ping(ctx) })
	i.Health.RegisterCritical("redis", func(ctx context.Context) error { return i.Redis.Ping(ctx).Err() })
	i.Health.RegisterNonCritical("kafka", func(ctx context.Context) error { return i.Producer.Ping(ctx) })
	return i, nil
}

func (i *Infra) connectStores(ctx context.Context, opts Options) error {
	pgCfg := opts.Env.Postgres(opts.Database)
	pool, err := database.NewPostgresPool(ctx, &pgCfg, i.logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	i.Pool = pool
	i.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.String("database", pgCfg.DBName),
	)
	database.RegisterPoolMetrics(pool, opts.Service)

	if err := database.RunMigrations(ctx, pool, opts.Migrations, i.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if threshold := opts.Env.SlowQueryThreshold(); threshold > 0 {
		database.SetSlowQueryLogging(threshold, i.logger)
	}

	redisCfg := opts.Env.Redis()
	client, err := database.NewRedisClient(ctx, redisCfg, i.logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	i.Redis = client
	i.logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))
	return nil
}

// OnShutdown registers fn to run after the HTTP server has drained and
// before the producers and stores close. Closers run in registration order.
func (i *Infra) OnShutdown(name string, fn func() error) {
	i.closers = append(i.closers, closer{name: name, close: fn})
}

// NewServer returns an HTTP server with the timeouts every service uses.
func NewServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs srv and the workers until ctx is canceled or the server fails,
// waits for the workers to return, then shuts down. A worker error is
// logged and does not stop the others.
func (i *Infra) Serve(ctx context.Context, srv *http.Server, workers ...Worker) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			if err := w.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				i.logger.Error("worker stopped", slog.String("worker", w.Name), slog.String("error", err.Error()))
			}
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() {
		i.logger.Info("starting HTTP server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		i.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopWorkers()
	_ = g.Wait()

	return errors.Join(runErr, i.Shutdown(srv))
}

// Shutdown stops components in dependency order: drain HTTP, run the
// registered closers, flush spans, close the Kafka producers, then Redis and
// the Postgres pool.
func (i *Infra) Shutdown(srv *http.Server) error {
	i.logger.Info("shutting down application...")

	var errs []error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		errs = append(errs, i.closed("http server", srv.Shutdown(ctx)))
		cancel()
	}
	for _, c := range i.closers {
		errs = append(errs, i.closed(c.name, c.close()))
	}
	errs = append(errs, i.release()...)

	i.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// release closes whatever Connect managed to open. It is safe on a
// partially built Infra.
func (i *Infra) release() []error {
	var errs []error
	if i.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerFlushTimeout)
		errs = append(errs, i.closed("tracer", i.tracerShutdown(ctx)))
		cancel()
	}
	if i.Producer != nil {
		errs = append(errs, i.closed("kafka producer", i.Producer.Close()))
	}
	if i.DLQ != nil {
		errs = append(errs, i.closed("kafka DLQ producer", i.DLQ.Close()))
	}
	if i.Redis != nil {
		errs = append(errs, i.closed("redis", i.Redis.Close()))
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
	return errs
}

func (i *Infra) closed(component string, err error) error {
	if err == nil {
		return nil
	}
	i.logger.Error("shutdown error", slog.String("component", component), slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", component, err)
}
