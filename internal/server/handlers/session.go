// internal/server/handlers/session.go

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tribe/internal/domain/proximity"
)

// SessionService is the part of the session manager exposed over HTTP
type SessionService interface {
	Nearby(userID string) (proximity.Update, error)
	SetFilter(userID string, tagIDs []string) (proximity.Update, error)
	SetRadius(userID string, radius proximity.Radius) error
	Status(userID string) (proximity.Status, error)
	Stop(userID string) error
}

// SessionHandler handles tracking session HTTP requests
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger.With("component", "session_handler"),
	}
}

type nearbyResponse struct {
	proximity.Update
	Reasons []string `json:"reasons"`
}

type statusResponse struct {
	proximity.Status
	Reasons []string `json:"reasons"`
}

type filterRequest struct {
	TagIDs []string `json:"tag_ids"`
}

type radiusRequest struct {
	RadiusKm float64 `json:"radius_km"`
}

func newNearbyResponse(u proximity.Update) nearbyResponse {
	reasons := u.Status.Reasons()
	if reasons == nil {
		reasons = []string{}
	}
	return nearbyResponse{Update: u, Reasons: reasons}
}

// GetNearby returns the peers the user currently sees
func (h *SessionHandler) GetNearby(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	update, err := h.sessions.Nearby(userID)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to get nearby members", err)
		return
	}

	respondWithJSON(w, http.StatusOK, newNearbyResponse(update))
}

// SetFilter replaces the user's interest filter
func (h *SessionHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	update, err := h.sessions.SetFilter(userID, req.TagIDs)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to set filter", err)
		return
	}

	respondWithJSON(w, http.StatusOK, newNearbyResponse(update))
}

// SetRadius changes the user's search radius
func (h *SessionHandler) SetRadius(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req radiusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	radius, err := proximity.ParseRadiusKm(req.RadiusKm)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), err)
		return
	}

	if err := h.sessions.SetRadius(userID, radius); err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to set radius", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"radius_km": radius})
}

// GetStatus returns the health of the user's session
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	status, err := h.sessions.Status(userID)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to get status", err)
		return
	}

	reasons := status.Reasons()
	if reasons == nil {
		reasons = []string{}
	}
	respondWithJSON(w, http.StatusOK, statusResponse{Status: status, Reasons: reasons})
}

// StopSession ends the user's tracking session
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.sessions.Stop(userID); err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to stop session", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
