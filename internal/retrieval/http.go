package retrieval

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/thumbflow/internal/respond"
	"github.com/your-org/thumbflow/pkg/apperr"
	"github.com/your-org/thumbflow/pkg/naming"
)

// RetryAfterSeconds is advertised on thumbnail misses for names with an
// allowed extension. A name that was never uploaded still gets it, since a
// miss cannot tell pending from absent without reading the original.
const RetryAfterSeconds = 5

// HTTPHandler serves originals and thumbnails as raw bytes.
type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
}

func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, logger: logger}
}

// Routes mounts the read endpoints on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/api/v1/images/{name}", h.byPath(VariantOriginal))
	r.Get("/api/v1/images/{name}/thumbnail", h.byPath(VariantThumbnail))
	r.Get("/download", h.byQuery(VariantOriginal))
	r.Get("/download-thumbnail", h.byQuery(VariantThumbnail))
}

func (h *HTTPHandler) byPath(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := url.PathUnescape(chi.URLParam(r, "name"))
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "invalid file name")
			return
		}
		h.serve(w, r, variant, name)
	}
}

func (h *HTTPHandler) byQuery(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, variant, r.URL.Query().Get("file_name"))
	}
}

func (h *HTTPHandler) serve(w http.ResponseWriter, r *http.Request, variant, name string) {
	var get func(context.Context, string) (*Artifact, error) = h.service.GetOriginal
	if variant == VariantThumbnail {
		get = h.service.GetThumbnail
	}

	art, err := get(r.Context(), name)
	if err != nil {
		switch {
		case apperr.IsNotFound(err) && variant == VariantThumbnail && naming.Allowed(name):
			// Only names that could have been uploaded may still gain a thumbnail.
			w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
			respond.Error(w, http.StatusNotFound, "thumbnail not ready")
		case apperr.IsNotFound(err):
			respond.Error(w, http.StatusNotFound, "image not found")
		case apperr.IsValidation(err):
			respond.Error(w, http.StatusBadRequest, err.Error())
		default:
			respond.Error(w, respond.StatusFor(err), "error reading "+variant)
		}
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		h.logger.Debug("write response body", zap.String("key", art.Key), zap.Error(err))
	}
}
