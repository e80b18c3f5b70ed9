package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/thumbflow/internal/respond"
	"github.com/your-org/thumbflow/pkg/queue"
)

const defaultDeadLetterLimit = 100

// Mounter is implemented by the feature HTTP handlers.
type Mounter interface {
	Routes(r chi.Router)
}

// QueueInspector is the read side of queue.Queue used by operator endpoints.
type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
	DeadLetters(ctx context.Context, limit int) ([]queue.Task, error)
}

type Params struct {
	Logger         *zap.Logger
	Queue          QueueInspector
	RequestTimeout time.Duration
	Handlers       []Mounter
}

// NewRouter composes the public HTTP surface.
func NewRouter(p Params) http.Handler {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(p.Logger))
	r.Use(middleware.Recoverer)
	if p.RequestTimeout > 0 {
		r.Use(middleware.Timeout(p.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	for _, h := range p.Handlers {
		h.Routes(r)
	}

	if p.Queue != nil {
		ops := &operator{queue: p.Queue, logger: p.Logger}
		r.Get("/api/v1/queue/stats", ops.stats)
		r.Get("/api/v1/queue/dead-letters", ops.deadLetters)
	}
	return r
}

type operator struct {
	queue  QueueInspector
	logger *zap.Logger
}

func (o *operator) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := o.queue.Stats(r.Context())
	if err != nil {
		o.logger.Error("queue stats failed", zap.Error(err))
		respond.Error(w, respond.StatusFor(err), "queue stats unavailable")
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

type deadLettersResponse struct {
	Count int          `json:"count"`
	Tasks []queue.Task `json:"tasks"`
}

func (o *operator) deadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	tasks, err := o.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		o.logger.Error("dead letter listing failed", zap.Error(err))
		respond.Error(w, respond.StatusFor(err), "dead letters unavailable")
		return
	}
	if tasks == nil {
		tasks = []queue.Task{}
	}
	respond.JSON(w, http.StatusOK, deadLettersResponse{Count: len(tasks), Tasks: tasks})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
