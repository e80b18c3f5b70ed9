package derivation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/your-org/thumbflow/pkg/apperr"
	"github.com/your-org/thumbflow/pkg/events"
	"github.com/your-org/thumbflow/pkg/metrics"
	"github.com/your-org/thumbflow/pkg/naming"
	"github.com/your-org/thumbflow/pkg/queue"
	"github.com/your-org/thumbflow/pkg/retry"
	"github.com/your-org/thumbflow/pkg/storage/objectstore"
)

var tracer = otel.Tracer("github.com/your-org/thumbflow/internal/derivation")

// Settler acknowledges deliveries.
type Settler interface {
	Ack(ctx context.Context, lease string) error
	Nack(ctx context.Context, lease string) error
}

// DerivationEvent is emitted after a derived artifact has been stored.
type DerivationEvent struct {
	TaskID     string    `json:"task_id"`
	SourceKey  string    `json:"source_key"`
	DerivedKey string    `json:"derived_key"`
	SizeBytes  int64     `json:"size_bytes"`
	Attempt    int       `json:"attempt"`
	DerivedAt  time.Time `json:"derived_at"`
}

// Worker processes derivation deliveries. It holds no per-task state, so any
// number of workers may share a queue.
type Worker struct {
	store       objectstore.Client
	settler     Settler
	transform   Transform
	publisher   events.Publisher
	logger      *zap.Logger
	metrics     *metrics.Recorder
	retry       retry.Policy
	taskTimeout time.Duration
}

type Params struct {
	Store     objectstore.Client
	Queue     Settler
	Transform Transform
	Publisher events.Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
	Retry     retry.Policy
	// TaskTimeout bounds fetch, transform and store for one delivery. It
	// should stay below the queue visibility timeout.
	TaskTimeout time.Duration
}

func NewWorker(p Params) *Worker {
	if p.Transform == nil {
		p.Transform = PassThrough{}
	}
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.TaskTimeout <= 0 {
		p.TaskTimeout = 20 * time.Second
	}
	return &Worker{
		store:       p.Store,
		settler:     p.Queue,
		transform:   p.Transform,
		publisher:   p.Publisher,
		logger:      p.Logger,
		metrics:     p.Metrics,
		retry:       p.Retry,
		taskTimeout: p.TaskTimeout,
	}
}

// Handle fetches the source, stores its derived artifact under the derived
// key and acks the delivery. Any failure before the ack nacks it instead so
// the queue redelivers it.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "derivation.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", d.Task.ID),
		attribute.String("object.key", d.Task.SourceKey),
		attribute.Int("task.attempt", d.Task.Attempt),
	)
	log := w.logger.With(
		zap.String("task_id", d.Task.ID),
		zap.String("source_key", d.Task.SourceKey),
		zap.Int("attempt", d.Task.Attempt),
	)

	derivedKey, size, err := w.derive(ctx, d.Task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "derivation failed")
		return w.fail(ctx, log, d, err, time.Since(start))
	}

	if err := w.settler.Ack(ctx, d.Lease); err != nil {
		// The artifact is stored; a redelivery only rewrites the same bytes.
		if errors.Is(err, queue.ErrLeaseExpired) {
			log.Warn("lease expired before ack, the queue has redelivered or dead-lettered the task",
				zap.String("derived_key", derivedKey))
		} else {
			log.Error("ack failed", zap.String("derived_key", derivedKey), zap.Error(err))
		}
		w.metrics.Derivation(metrics.OutcomeFailed, time.Since(start))
		return fmt.Errorf("ack task %s: %w", d.Task.ID, err)
	}

	w.metrics.Derivation(metrics.OutcomeSuccess, time.Since(start))
	log.Info("thumbnail stored", zap.String("derived_key", derivedKey), zap.Int("size_bytes", size))

	event := DerivationEvent{
		TaskID:     d.Task.ID,
		SourceKey:  d.Task.SourceKey,
		DerivedKey: derivedKey,
		SizeBytes:  int64(size),
		Attempt:    d.Task.Attempt,
		DerivedAt:  time.Now().UTC(),
	}
	if err := events.Emit(ctx, w.publisher, events.TypeDerivationCompleted, d.Task.SourceKey, event); err != nil {
		log.Warn("derivation event not published", zap.Error(err))
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, d queue.Delivery, cause error, took time.Duration) error {
	nackErr := w.settler.Nack(ctx, d.Lease)
	switch {
	case nackErr == nil:
		w.metrics.Derivation(metrics.OutcomeFailed, took)
		log.Warn("derivation failed, task will be redelivered", zap.Error(cause))
	case errors.Is(nackErr, apperr.ErrDeadLettered):
		w.metrics.Derivation(metrics.OutcomeDeadLettered, took)
		log.Error("derivation task dead-lettered", zap.Error(cause))
		return fmt.Errorf("derive %s: %w", d.Task.SourceKey, errors.Join(cause, nackErr))
	case errors.Is(nackErr, queue.ErrLeaseExpired):
		w.metrics.Derivation(metrics.OutcomeFailed, took)
		log.Warn("derivation failed after lease expired", zap.Error(cause))
	default:
		// The visibility timeout still redelivers the task.
		w.metrics.Derivation(metrics.OutcomeFailed, took)
		log.Error("derivation failed and nack failed", zap.Error(cause), zap.NamedError("nack_error", nackErr))
	}
	return fmt.Errorf("derive %s: %w", d.Task.SourceKey, cause)
}

func (w *Worker) derive(ctx context.Context, task queue.Task) (derivedKey string, size int, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()

	src, err := w.store.Get(ctx, task.SourceKey)
	if err != nil {
		return "", 0, fmt.Errorf("fetch source: %w", err)
	}

	derivedKey = naming.DerivedKey(task.SourceKey)
	data, contentType, err := w.transform.Derive(ctx, src.Data, src.ContentType, task.SourceKey)
	if err != nil {
		return "", 0, fmt.Errorf("transform: %w", err)
	}
	if contentType == "" {
		contentType = naming.ContentType(derivedKey)
	}

	metadata := map[string]string{"source_key": task.SourceKey}
	err = retry.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.Put(ctx, derivedKey, data, contentType, metadata)
	})
	if err != nil {
		return "", 0, fmt.Errorf("store derived: %w", err)
	}
	return derivedKey, len(data), nil
}
