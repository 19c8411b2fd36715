package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wesm/fleetview/internal/repo"
	"github.com/wesm/fleetview/internal/store"
)

// writeJSON writes v as JSON with the given HTTP status code.
// Logs a warning if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writeJSON: encoding response", "err", err)
	}
}

// writeError writes a JSON error response with the given status
// and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleContextError detects context.Canceled and
// context.DeadlineExceeded errors, returning true so the
// caller stops processing. It does NOT write an HTTP
// response; the withTimeout middleware handles that via
// http.TimeoutHandler (503). Writing here would race with
// the middleware's buffered response.
func handleContextError(_ http.ResponseWriter, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// writeMutationError maps a repository write error onto a status
// code. Unexpected errors are logged and reported without detail.
func (s *Server) writeMutationError(
	w http.ResponseWriter, err error,
) {
	if handleContextError(w, err) {
		return
	}
	switch {
	case errors.Is(err, store.ErrScopeMissing),
		errors.Is(err, repo.ErrInvalid),
		errors.Is(err, store.ErrInvalidIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repo.ErrUnknownResource),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("mutation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
