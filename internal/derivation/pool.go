package derivation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/thumbflow/pkg/metrics"
	"github.com/your-org/thumbflow/pkg/queue"
)

// PoolConfig sizes the consumer pool.
type PoolConfig struct {
	Concurrency  int
	BatchSize    int
	Visibility   time.Duration
	PollInterval time.Duration
	// StatsInterval controls how often queue depth is exported. Zero disables it.
	StatsInterval time.Duration
}

// Pool runs independent pollers that share a queue. Pollers keep no shared
// state; coordination is left to the queue's leases.
type Pool struct {
	worker  *Worker
	queue   queue.Queue
	cfg     PoolConfig
	logger  *zap.Logger
	metrics *metrics.Recorder
}

func NewPool(worker *Worker, q queue.Queue, cfg PoolConfig, logger *zap.Logger, rec *metrics.Recorder) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{worker: worker, queue: q, cfg: cfg, logger: logger, metrics: rec}
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("derivation pool starting",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("visibility", p.cfg.Visibility),
	)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.poll(ctx, id)
			return nil
		})
	}
	if p.cfg.StatsInterval > 0 {
		g.Go(func() error {
			p.exportStats(ctx)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("derivation pool stopped")
	return err
}

func (p *Pool) poll(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("poller", id))
	for {
		n, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("dequeue failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce dequeues one batch and handles its deliveries concurrently, so the
// whole batch finishes within one task timeout and inside every lease. It
// returns the number of deliveries handled. Deliveries leased before a
// dequeue error are still handled; per-task failures are settled through the
// queue and are not reported here.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	batch, err := p.queue.Dequeue(ctx, p.cfg.BatchSize, p.cfg.Visibility)
	if len(batch) > 0 {
		var g errgroup.Group
		for _, d := range batch {
			g.Go(func() error {
				_ = p.worker.Handle(ctx, d)
				return nil
			})
		}
		_ = g.Wait()
	}
	return len(batch), err
}

func (p *Pool) exportStats(ctx context.Context) {
	t := time.NewTicker(p.cfg.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats, err := p.queue.Stats(ctx)
			if err != nil {
				p.logger.Debug("queue stats unavailable", zap.Error(err))
				continue
			}
			p.metrics.QueueDepth(stats.Ready, stats.InFlight, stats.DeadLettered)
		}
	}
}
