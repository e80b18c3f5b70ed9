package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/thumbflow/internal/respond"
	"github.com/your-org/thumbflow/pkg/apperr"
)

// HTTPHandler exposes the upload endpoints.
type HTTPHandler struct {
	service      *Service
	logger       *zap.Logger
	maxSizeBytes int64
	formMemBytes int64
	publicURL    string
}

// NewHTTPHandler constructs the upload handler. publicURL prefixes the
// retrieval url returned to clients and may be empty.
func NewHTTPHandler(service *Service, logger *zap.Logger, maxSizeBytes, formMemBytes int64, publicURL string) *HTTPHandler {
	return &HTTPHandler{
		service:      service,
		logger:       logger,
		maxSizeBytes: maxSizeBytes,
		formMemBytes: formMemBytes,
		publicURL:    strings.TrimSuffix(publicURL, "/"),
	}
}

// Routes mounts the upload endpoints on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Post("/api/v1/uploads", h.handleUpload)
	r.Post("/upload", h.handleUpload)
}

type uploadFile struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type uploadBody struct {
	File *uploadFile `json:"file"`
}

type uploadResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	URL       string `json:"url,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 && r.ContentLength > h.maxSizeBytes {
		respond.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSizeBytes)

	var (
		req UploadRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = h.readMultipart(r)
	} else {
		req, err = readJSON(r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "file exceeds max size limit")
			return
		}
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		h.writeIngestError(w, req.Filename, result, err)
		return
	}

	respond.JSON(w, http.StatusOK, uploadResponse{
		Status:    "ok",
		Message:   fmt.Sprintf("File %s uploaded successfully.", result.StoredKey),
		URL:       h.objectURL(result.StoredKey),
		ObjectKey: result.StoredKey,
		TaskID:    result.TaskID,
		Checksum:  result.Checksum,
		SizeBytes: result.Size,
	})
}

func (h *HTTPHandler) writeIngestError(w http.ResponseWriter, filename string, result *UploadResult, err error) {
	switch {
	case apperr.IsValidation(err):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrPartialFailure):
		h.logger.Error("upload partially failed", zap.String("key", filename), zap.Error(err))
		respond.JSON(w, http.StatusInternalServerError, uploadResponse{
			Status:    "error",
			Message:   "file stored but thumbnail generation could not be scheduled",
			ObjectKey: result.StoredKey,
			Checksum:  result.Checksum,
			SizeBytes: result.Size,
		})
	default:
		h.logger.Error("upload failed", zap.String("key", filename), zap.Error(err))
		respond.Error(w, respond.StatusFor(err), "upload failed")
	}
}

func (h *HTTPHandler) objectURL(key string) string {
	return h.publicURL + "/api/v1/images/" + url.PathEscape(key)
}

func readJSON(r *http.Request) (UploadRequest, error) {
	var body uploadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return UploadRequest{}, err
		}
		return UploadRequest{}, errors.New("invalid JSON body")
	}
	if body.File == nil {
		return UploadRequest{}, errors.New("no file provided in the request")
	}
	return UploadRequest{
		Filename:    body.File.Filename,
		Content:     []byte(body.File.Content),
		Encoding:    EncodingBase64,
		ContentType: body.File.ContentType,
	}, nil
}

func (h *HTTPHandler) readMultipart(r *http.Request) (UploadRequest, error) {
	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return UploadRequest{}, err
		}
		return UploadRequest{}, errors.New("invalid multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return UploadRequest{}, errors.New("file field is required")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return UploadRequest{}, fmt.Errorf("read file: %w", err)
	}

	filename := header.Filename
	if override := r.FormValue("filename"); override != "" {
		filename = override
	}
	// Generic part types are replaced by the type inferred from the extension.
	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}
	return UploadRequest{
		Filename:    filename,
		Content:     content,
		Encoding:    EncodingRaw,
		ContentType: contentType,
	}, nil
}
