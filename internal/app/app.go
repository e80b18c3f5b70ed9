// Package app wires configuration into the pipeline components shared by the
// thumbflow commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/thumbflow/internal/derivation"
	"github.com/your-org/thumbflow/pkg/config"
	"github.com/your-org/thumbflow/pkg/events"
	"github.com/your-org/thumbflow/pkg/kafka"
	"github.com/your-org/thumbflow/pkg/metrics"
	"github.com/your-org/thumbflow/pkg/queue"
	"github.com/your-org/thumbflow/pkg/retry"
	"github.com/your-org/thumbflow/pkg/storage/objectstore"
)

// Deps holds the long-lived clients of a process.
type Deps struct {
	Store     objectstore.Client
	Queue     queue.Queue
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Retry     retry.Policy
}

// NewDeps connects to the configured object store, queue and event bus.
// On error every client opened so far is closed.
func NewDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Deps, error) {
	rec, err := metrics.New(cfg.App.Name, prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store, err := objectstore.New(ctx, objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		OpTimeout: cfg.Storage.OpTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}

	q, err := queue.New(queue.Config{
		Backend:     cfg.Queue.Backend,
		MaxAttempts: cfg.Queue.MaxAttempts,
		OpTimeout:   cfg.Queue.OpTimeout,
		Redis: queue.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			Group:    cfg.Redis.Group,
			Consumer: cfg.Redis.Consumer,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init queue: %w", err)
	}

	return &Deps{
		Store:     store,
		Queue:     q,
		Publisher: NewPublisher(cfg.Kafka, logger),
		Metrics:   rec,
		Retry: retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
	}, nil
}

// Close releases every client, returning the joined errors.
func (d *Deps) Close(ctx context.Context) error {
	return errors.Join(
		d.Publisher.Close(ctx),
		d.Queue.Close(),
		d.Store.Close(),
	)
}

// NewPublisher returns a kafka producer, or events.Nop when no brokers are
// configured.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) events.Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Info("event publishing disabled, no kafka brokers configured")
		return events.Nop{}
	}
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.EventsTopic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Retries,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
	})
}

// NewPool builds the derivation worker pool over deps.
func NewPool(cfg *config.Config, deps *Deps, logger *zap.Logger) (*derivation.Pool, error) {
	transform, err := derivation.NewTransform(cfg.Worker.Transform, cfg.Worker.ThumbWidth, cfg.Worker.ThumbHeight)
	if err != nil {
		return nil, err
	}
	worker := derivation.NewWorker(derivation.Params{
		Store:       deps.Store,
		Queue:       deps.Queue,
		Transform:   transform,
		Publisher:   deps.Publisher,
		Logger:      logger,
		Metrics:     deps.Metrics,
		Retry:       deps.Retry,
		TaskTimeout: cfg.Worker.TaskTimeout,
	})
	return derivation.NewPool(worker, deps.Queue, derivation.PoolConfig{
		Concurrency:   cfg.Worker.Concurrency,
		BatchSize:     cfg.Queue.BatchSize,
		Visibility:    cfg.Queue.VisibilityTimeout,
		PollInterval:  cfg.Worker.PollInterval,
		StatsInterval: 15 * time.Second,
	}, logger, deps.Metrics), nil
}

// MetricsServer exposes the prometheus handler on addr. An empty addr
// returns nil.
func MetricsServer(addr string, rec *metrics.Recorder) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *zap.Logger, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return <-errCh
}
