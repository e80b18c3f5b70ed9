package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/thumbflow/internal/app"
	"github.com/your-org/thumbflow/pkg/config"
	"github.com/your-org/thumbflow/pkg/logger"
	"github.com/your-org/thumbflow/pkg/tracing"
)

const shutdownGrace = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Queue.Backend == "memory" {
		log.Fatalf("deriver needs a shared queue backend, QUEUE_BACKEND=memory only works with WORKER_EMBEDDED")
	}

	logr, err := logger.New(logger.Options{
		Level:   cfg.App.LogLevel,
		Format:  cfg.App.LogFormat,
		Service: cfg.App.Name + "-deriver",
		Version: cfg.App.Version,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name + "-deriver",
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	deps, err := app.NewDeps(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("init dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logr.Error("close dependencies", zap.Error(err))
		}
	}()

	pool, err := app.NewPool(cfg, deps, logr)
	if err != nil {
		logr.Fatal("init worker pool", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	if ms := app.MetricsServer(cfg.Metrics.Addr, deps.Metrics); ms != nil {
		g.Go(func() error {
			return app.Serve(gctx, ms, logr, shutdownGrace)
		})
	}

	logr.Info("deriver starting",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("transform", cfg.Worker.Transform),
	)
	if err := g.Wait(); err != nil {
		logr.Error("deriver stopped with error", zap.Error(err))
		return
	}
	logr.Info("deriver stopped")
}
