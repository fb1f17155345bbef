package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/notepub/internal/apperr"
)

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResponse{Error: msg})
}

// runStatus maps a publish error to the response status. Remote failures
// are reported as a bad gateway.
func runStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, apperr.ErrPublishInProgress):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrMissingCredentials):
		return http.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrNotPublishable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
