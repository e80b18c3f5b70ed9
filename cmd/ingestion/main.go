package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/thumbflow/internal/api"
	"github.com/your-org/thumbflow/internal/app"
	"github.com/your-org/thumbflow/internal/ingestion"
	"github.com/your-org/thumbflow/internal/retrieval"
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

	logr, err := logger.New(logger.Options{
		Level:   cfg.App.LogLevel,
		Format:  cfg.App.LogFormat,
		Service: cfg.App.Name + "-ingestion",
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
		ServiceName: cfg.App.Name + "-ingestion",
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

	// Nothing outside this process can drain an in-memory queue.
	if cfg.Queue.Backend == "memory" && !cfg.Worker.Embedded {
		logr.Warn("memory queue requires an embedded worker pool, enabling it")
		cfg.Worker.Embedded = true
	}

	ingest := ingestion.NewService(ingestion.Params{
		Store:     deps.Store,
		Queue:     deps.Queue,
		Publisher: deps.Publisher,
		Logger:    logr,
		Metrics:   deps.Metrics,
		Retry:     deps.Retry,
		Namespace: cfg.Storage.Bucket,
	})
	retrieve := retrieval.NewService(retrieval.Params{
		Store:   deps.Store,
		Logger:  logr,
		Metrics: deps.Metrics,
	})

	router := api.NewRouter(api.Params{
		Logger:         logr,
		Queue:          deps.Queue,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Handlers: []api.Mounter{
			ingestion.NewHTTPHandler(ingest, logr, cfg.Upload.MaxSizeBytes, cfg.Upload.MultipartMemBytes, cfg.HTTP.PublicURL),
			retrieval.NewHTTPHandler(retrieve, logr),
		},
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Serve(gctx, server, logr, shutdownGrace)
	})
	if ms := app.MetricsServer(cfg.Metrics.Addr, deps.Metrics); ms != nil {
		g.Go(func() error {
			return app.Serve(gctx, ms, logr, shutdownGrace)
		})
	}
	if cfg.Worker.Embedded {
		pool, err := app.NewPool(cfg, deps, logr)
		if err != nil {
			logr.Fatal("init worker pool", zap.Error(err))
		}
		g.Go(func() error {
			return pool.Run(gctx)
		})
	}

	logr.Info("ingestion service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Bool("embedded_worker", cfg.Worker.Embedded),
	)
	if err := g.Wait(); err != nil {
		logr.Error("ingestion service stopped with error", zap.Error(err))
		return
	}
	logr.Info("ingestion service stopped")
}
