package respond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/your-org/thumbflow/pkg/apperr"
)

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Error writes {"status": "error", "message": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{
		"status":  "error",
		"message": msg,
	})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
