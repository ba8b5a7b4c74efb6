package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/paulgrammer/vidtrack/internal/genapi"
	"github.com/paulgrammer/vidtrack/internal/jobs"
)

// respondWithJSON writes the given payload as JSON with the provided status code.
func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// respondWithError writes a standardized JSON error payload. The backend's
// error code is included when err carries one.
func respondWithError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var reqErr *genapi.RequestError
	if errors.As(err, &reqErr) && reqErr.Code != "" {
		body["error_code"] = reqErr.Code
	}
	respondWithJSON(w, status, body)
}

// errorStatus maps tracker and backend errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, genapi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotCompleted):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
