package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/staterail/staterail/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// WriteDomainError maps an engine error onto an HTTP status: unknown
// resources become 404, rejected input becomes 400, everything else 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFound(err):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.IsValidation(err):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
