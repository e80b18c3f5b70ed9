package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
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

var tracer = otel.Tracer("github.com/your-org/thumbflow/internal/ingestion")

// Encoding describes how UploadRequest.Content is transported.
type Encoding string

const (
	// EncodingBase64 is standard base64; missing padding is repaired. It is
	// assumed when Encoding is empty.
	EncodingBase64 Encoding = "base64"
	EncodingRaw    Encoding = "raw"
)

// Enqueuer is the part of queue.Queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// Service stores uploads and schedules exactly one derivation per stored image.
type Service struct {
	store     objectstore.Client
	queue     Enqueuer
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *metrics.Recorder
	retry     retry.Policy
	namespace string
	now       func() time.Time
}

type Params struct {
	Store     objectstore.Client
	Queue     Enqueuer
	Publisher events.Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
	Retry     retry.Policy
	// Namespace is recorded on tasks, typically the bucket name.
	Namespace string
}

// UploadRequest is a single image upload.
type UploadRequest struct {
	Filename    string
	Content     []byte
	Encoding    Encoding
	ContentType string
}

type UploadResult struct {
	StoredKey    string
	TaskID       string
	TaskEnqueued bool
	Checksum     string
	Size         int64
	UploadedAt   time.Time
}

// NewService constructs an ingestion Service.
func NewService(p Params) *Service {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	return &Service{
		store:     p.Store,
		queue:     p.Queue,
		publisher: p.Publisher,
		logger:    p.Logger,
		metrics:   p.Metrics,
		retry:     p.Retry,
		namespace: p.Namespace,
		now:       time.Now,
	}
}

// Ingest validates and stores an upload, then enqueues its derivation task.
//
// Validation failures perform no write. If the task cannot be enqueued after
// the image was stored, the returned result describes the stored object and
// the error is of kind apperr.ErrPartialFailure; the object is not removed.
func (s *Service) Ingest(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", req.Filename))

	data, err := validate(req)
	if err != nil {
		s.metrics.Ingest(metrics.OutcomeValidation, 0)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = naming.ContentType(req.Filename)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	metadata := map[string]string{
		"original_filename": req.Filename,
		"checksum":          checksum,
	}
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Put(ctx, req.Filename, data, contentType, metadata)
	})
	if err != nil {
		s.metrics.Ingest(metrics.OutcomeFailed, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return nil, fmt.Errorf("store original: %w", err)
	}
	s.logger.Info("image stored",
		zap.String("key", req.Filename),
		zap.Int("size_bytes", len(data)),
		zap.String("content_type", contentType),
	)

	result := &UploadResult{
		StoredKey:  req.Filename,
		Checksum:   checksum,
		Size:       int64(len(data)),
		UploadedAt: s.now().UTC(),
	}

	task := queue.Task{Namespace: s.namespace, SourceKey: req.Filename, EnqueuedAt: result.UploadedAt}
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		id, err := s.queue.Enqueue(ctx, task)
		if err == nil {
			result.TaskID = id
		}
		return err
	})
	if err != nil {
		s.metrics.Ingest(metrics.OutcomePartial, len(data))
		s.logger.Error("image stored but derivation task not enqueued",
			zap.String("key", req.Filename),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return result, apperr.New(apperr.ErrPartialFailure, "ingest", req.Filename, err)
	}
	result.TaskEnqueued = true
	span.SetAttributes(attribute.String("task.id", result.TaskID))

	event := IngestionEvent{
		TaskID:      result.TaskID,
		Namespace:   s.namespace,
		ObjectKey:   result.StoredKey,
		Checksum:    checksum,
		SizeBytes:   result.Size,
		ContentType: contentType,
		CreatedAt:   result.UploadedAt,
	}
	if err := events.Emit(ctx, s.publisher, events.TypeIngestionCreated, result.StoredKey, event); err != nil {
		s.logger.Warn("ingestion event not published", zap.String("key", req.Filename), zap.Error(err))
	}

	s.metrics.Ingest(metrics.OutcomeSuccess, len(data))
	s.logger.Info("derivation task enqueued",
		zap.String("key", req.Filename),
		zap.String("task_id", result.TaskID),
	)
	return result, nil
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	return s.publisher.Close(ctx)
}

func validate(req UploadRequest) ([]byte, error) {
	if req.Filename == "" {
		return nil, apperr.Validation("ingest", "no file provided in the request")
	}
	if !naming.Allowed(req.Filename) {
		return nil, apperr.Validation("ingest", "file format not allowed. Allowed formats are: %s",
			strings.Join(naming.AllowedExtensions(), ", "))
	}

	var data []byte
	switch req.Encoding {
	case EncodingBase64, "":
		decoded, err := DecodeContent(req.Content)
		if err != nil {
			return nil, err
		}
		data = decoded
	case EncodingRaw:
		data = req.Content
	default:
		return nil, apperr.Validation("ingest", "unsupported content encoding %q", req.Encoding)
	}
	if len(data) == 0 {
		return nil, apperr.Validation("ingest", "file content is empty")
	}
	return data, nil
}

// DecodeContent decodes standard base64, appending the '=' padding that
// clients commonly strip.
func DecodeContent(encoded []byte) ([]byte, error) {
	s := string(encoded)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Validation("ingest", "decode content: %v", err)
	}
	return out, nil
}
