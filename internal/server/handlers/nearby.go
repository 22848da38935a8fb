// internal/server/handlers/nearby.go

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/service/nearby"
)

// NearbyQuerier runs one-off proximity queries
type NearbyQuerier interface {
	ViewerInterests(ctx context.Context, viewerID string) ([]proximity.Interest, error)
	Query(ctx context.Context, req nearby.Request) (proximity.Snapshot, error)
}

// NearbyHandler answers proximity queries for clients without a tracking session
type NearbyHandler struct {
	engine NearbyQuerier
	logger *slog.Logger
}

// NewNearbyHandler creates a new nearby handler
func NewNearbyHandler(engine NearbyQuerier, logger *slog.Logger) *NearbyHandler {
	return &NearbyHandler{
		engine: engine,
		logger: logger.With("component", "nearby_handler"),
	}
}

type queryResponse struct {
	Center   geo.Coordinate   `json:"center"`
	RadiusKm proximity.Radius `json:"radius_km"`
	Peers    []proximity.Peer `json:"peers"`
	Total    int              `json:"total"`
}

// GetNearby returns members near a location sharing the viewer's interests.
// An optional tags parameter narrows the result locally.
func (h *NearbyHandler) GetNearby(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	userID := r.URL.Query().Get("user_id")
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	radiusStr := r.URL.Query().Get("radius_km")

	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "Missing user ID", nil)
		return
	}
	if latStr == "" || lngStr == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "Missing location parameters", nil)
		return
	}

	// Parse coordinates
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid latitude", err)
		return
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "Invalid longitude", err)
		return
	}

	center := geo.Coordinate{Latitude: lat, Longitude: lng}
	if !center.Valid() {
		respondWithError(w, h.logger, http.StatusBadRequest, "Location out of range", nil)
		return
	}

	// Parse radius (default to 10km)
	radius := proximity.Radius10Km
	if radiusStr != "" {
		km, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, "Invalid radius", err)
			return
		}
		if radius, err = proximity.ParseRadiusKm(km); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), err)
			return
		}
	}

	interests, err := h.engine.ViewerInterests(r.Context(), userID)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), "Failed to load interests", err)
		return
	}

	tags := make([]string, 0, len(interests))
	for _, in := range interests {
		tags = append(tags, in.ID)
	}

	snapshot, err := h.engine.Query(r.Context(), nearby.Request{
		ViewerID:       userID,
		Center:         center,
		Radius:         radius,
		RequiredTagIDs: tags,
	})
	if err != nil {
		message := "Failed to query nearby members"
		if proximity.ReasonFor(err) == proximity.ReasonNoInterests {
			message = "Add interests to see nearby members"
		}
		respondWithError(w, h.logger, statusFor(err), message, err)
		return
	}

	var selected []string
	if tagsStr := r.URL.Query().Get("tags"); tagsStr != "" {
		selected = strings.Split(tagsStr, ",")
	}
	peers := nearby.Filter(snapshot, proximity.NewTagSet(selected...))
	if peers == nil {
		peers = []proximity.Peer{}
	}

	respondWithJSON(w, http.StatusOK, queryResponse{
		Center:   snapshot.Center,
		RadiusKm: snapshot.Radius,
		Peers:    peers,
		Total:    len(snapshot.Peers),
	})
}
