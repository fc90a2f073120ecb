// Package app assembles the stockd process from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stockcore/internal/adapters/httpapi"
	"stockcore/internal/adapters/idempotency"
	"stockcore/internal/audit"
	"stockcore/internal/blob"
	blobcore "stockcore/internal/blob/core"
	"stockcore/internal/config"
	"stockcore/internal/core"
	"stockcore/internal/platform/kafka"
	"stockcore/internal/platform/observability"
	"stockcore/pkg/domain"
)

// Container holds the long-lived process resources.
type Container struct {
	config      *config.Config
	logger      *zap.Logger
	store       domain.PersistentStore
	service     *core.Service
	metrics     *observability.PrometheusRecorder
	publisher   *kafka.Publisher
	blobs       blobcore.Store
	exports     *audit.Worker
	idempotency idempotency.Store
	redis       *idempotency.RedisStore
	router      http.Handler

	otelShutdown func(context.Context) error
}

// NewContainer wires every component named by cfg. Log output goes to out.
func NewContainer(ctx context.Context, cfg *config.Config, out io.Writer) (*Container, error) {
	c := &Container{config: cfg}
	c.logger = observability.NewLogger(out, zapcore.InfoLevel, false)

	tp := c.setupObservability(ctx, out)
	logger := observability.NewCoreLogger(c.logger)

	store, err := core.OpenPersistentStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.StorageDriver),
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
		LockTimeout: cfg.LockTimeout,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.StorageDriver, err)
	}
	c.store = store

	c.metrics = observability.NewPrometheusRecorder()
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(c.metrics),
		core.WithTracer(observability.NewTracer(tp)),
	}
	if cfg.KafkaEnabled() {
		if err := c.setupKafka(tp); err != nil {
			c.Shutdown(ctx)
			return nil, err
		}
		opts = append(opts, core.WithEventPublisher(c.publisher))
	}
	c.service = core.NewService(store, opts...)

	if cfg.Seed {
		catalog := core.DefaultCatalog(rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
		if err := c.service.Seed(ctx, catalog); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}

	if c.blobs, err = blob.Open(ctx, cfg); err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	c.exports = audit.NewWorker(c.service, c.blobs, audit.WithPrefix(cfg.ExportPrefix), audit.WithLogger(logger))
	c.exports.Start()

	if cfg.RedisAddr != "" {
		if c.redis, err = idempotency.NewRedisStore(ctx, cfg.RedisAddr, cfg.IdempotencyTTL); err != nil {
			c.Shutdown(ctx)
			return nil, err
		}
		c.idempotency = c.redis
	} else {
		c.idempotency = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	c.router = httpapi.NewRouter(httpapi.Options{
		Service:     c.service,
		Exports:     c.exports,
		Idempotency: c.idempotency,
		Logger:      logger,
		Metrics:     c.metrics.Handler(),
		Ready:       c.ready,
	})
	c.logger.Info("container ready",
		zap.String("storage", cfg.StorageDriver),
		zap.String("blob", string(c.blobs.Driver())),
		zap.Bool("kafka", cfg.KafkaEnabled()),
		zap.Bool("redis", c.redis != nil),
	)
	return c, nil
}

// setupObservability starts the OTLP SDKs when enabled and re-creates the
// logger with the OTel bridge. It returns the tracer provider to use.
func (c *Container) setupObservability(ctx context.Context, out io.Writer) trace.TracerProvider {
	if !c.config.OtelEnabled {
		return otel.GetTracerProvider()
	}
	logShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("failed to set up OpenTelemetry logging", zap.Error(err))
	}
	tp, traceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("failed to set up OpenTelemetry tracing", zap.Error(err))
	}
	c.otelShutdown = observability.Shutdowns(traceShutdown, logShutdown)
	c.logger = observability.NewLogger(out, zapcore.InfoLevel, logShutdown != nil)
	if tp == nil {
		return otel.GetTracerProvider()
	}
	return tp
}

func (c *Container) setupKafka(tp trace.TracerProvider) error {
	orders, err := kafka.NewTracedWriter(c.config.KafkaBrokers, c.config.OrdersTopic, tp)
	if err != nil {
		return fmt.Errorf("orders writer: %w", err)
	}
	movements, err := kafka.NewTracedWriter(c.config.KafkaBrokers, c.config.MovementsTopic, tp)
	if err != nil {
		_ = orders.Close()
		return fmt.Errorf("movements writer: %w", err)
	}
	c.publisher = kafka.NewPublisher(orders, movements)
	c.logger.Info("publishing lifecycle events",
		zap.Strings("brokers", c.config.KafkaBrokers),
		zap.String("orders_topic", c.config.OrdersTopic),
		zap.String("movements_topic", c.config.MovementsTopic),
	)
	return nil
}

func (c *Container) ready(ctx context.Context) error {
	if _, err := c.store.ListWarehouses(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// Shutdown releases resources in reverse order of creation. It is safe on a
// partially built container.
func (c *Container) Shutdown(ctx context.Context) {
	var errs []error
	if c.exports != nil {
		errs = append(errs, c.exports.Stop(ctx))
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.publisher != nil {
		errs = append(errs, c.publisher.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.otelShutdown != nil {
		errs = append(errs, c.otelShutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Error("shutdown finished with errors", zap.Error(err))
	}
	_ = c.logger.Sync()
}

func (c *Container) Config() *config.Config { return c.config }
func (c *Container) Logger() *zap.Logger    { return c.logger }
func (c *Container) Service() *core.Service { return c.service }
func (c *Container) Router() http.Handler   { return c.router }
func (c *Container) Exports() *audit.Worker { return c.exports }
func (c *Container) Blobs() blobcore.Store  { return c.blobs }
