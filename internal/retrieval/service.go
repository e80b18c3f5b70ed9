package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/thumbflow/pkg/apperr"
	"github.com/your-org/thumbflow/pkg/metrics"
	"github.com/your-org/thumbflow/pkg/naming"
	"github.com/your-org/thumbflow/pkg/storage/objectstore"
)

var tracer = otel.Tracer("github.com/your-org/thumbflow/internal/retrieval")

const (
	VariantOriginal  = "original"
	VariantThumbnail = "thumbnail"
)

// Artifact is a blob ready to be served.
type Artifact struct {
	Key         string
	Data        []byte
	ContentType string
}

// Service reads originals and thumbnails. It never waits for a pending
// derivation: a thumbnail that does not exist yet is reported as not found.
type Service struct {
	store   objectstore.Client
	logger  *zap.Logger
	metrics *metrics.Recorder
}

type Params struct {
	Store   objectstore.Client
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

func NewService(p Params) *Service {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Service{store: p.Store, logger: p.Logger, metrics: p.Metrics}
}

// GetOriginal returns the uploaded image stored under name.
func (s *Service) GetOriginal(ctx context.Context, name string) (*Artifact, error) {
	return s.get(ctx, VariantOriginal, name, name)
}

// GetThumbnail returns the derived artifact for name.
func (s *Service) GetThumbnail(ctx context.Context, name string) (*Artifact, error) {
	return s.get(ctx, VariantThumbnail, name, naming.DerivedKey(name))
}

func (s *Service) get(ctx context.Context, variant, name, key string) (*Artifact, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Get")
	defer span.End()
	span.SetAttributes(attribute.String("variant", variant), attribute.String("object.key", key))

	if name == "" {
		s.metrics.Retrieval(variant, metrics.OutcomeValidation)
		return nil, apperr.Validation("retrieval", "file name is required")
	}

	obj, err := s.store.Get(ctx, key)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.metrics.Retrieval(variant, metrics.OutcomeNotFound)
			return nil, fmt.Errorf("get %s %s: %w", variant, name, err)
		}
		s.metrics.Retrieval(variant, metrics.OutcomeFailed)
		span.RecordError(err)
		s.logger.Error("object read failed",
			zap.String("variant", variant),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("get %s %s: %w", variant, name, err)
	}

	s.metrics.Retrieval(variant, metrics.OutcomeSuccess)
	return &Artifact{Key: key, Data: obj.Data, ContentType: contentType(obj.ContentType, key)}, nil
}

func contentType(stored, key string) string {
	switch stored {
	case "", "application/octet-stream", "binary/octet-stream":
		return naming.ContentType(key)
	}
	return stored
}
