// internal/server/handlers/respond.go

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tribe/internal/domain/proximity"
)

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, logger *slog.Logger, code int, message string, err error) {
	response := map[string]string{"error": message}

	if err != nil {
		if code >= 500 {
			logger.Error("HTTP error", "code", code, "message", message, "error", err)
		}
		if reason := proximity.ReasonFor(err); reason != "" {
			response["reason"] = reason
		}
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, proximity.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, proximity.ErrInvalidRadius):
		return http.StatusBadRequest
	case errors.Is(err, proximity.ErrNoInterests):
		return http.StatusUnprocessableEntity
	case errors.Is(err, proximity.ErrRefreshFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	return dec.Decode(v)
}
