// internal/adapter/events/messages.go

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

var (
	errMissingPeer     = errors.New("missing peer_id")
	errMissingPosition = errors.New("missing coordinates")
	errBadPosition     = errors.New("coordinates out of range")
)

// PositionMessage is the payload published on the position subject
type PositionMessage struct {
	PeerID     string    `json:"peer_id"`
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// InterestsMessage is the payload published on the interests subject
type InterestsMessage struct {
	PeerID string   `json:"peer_id"`
	TagIDs []string `json:"tag_ids"`
}

// DecodePositionEvent turns a raw position payload into a peer event.
// Anything unusable becomes a malformed event rather than an error.
func DecodePositionEvent(data []byte) proximity.PeerEvent {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return malformed("", fmt.Errorf("decoding position: %w", err))
	}
	if msg.PeerID == "" {
		return malformed("", errMissingPeer)
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		return malformed(msg.PeerID, errMissingPosition)
	}

	position := geo.Coordinate{Latitude: *msg.Latitude, Longitude: *msg.Longitude}
	if !position.Valid() {
		return malformed(msg.PeerID, errBadPosition)
	}

	return proximity.PeerEvent{
		Kind:       proximity.EventPositionChanged,
		PeerID:     msg.PeerID,
		Position:   &position,
		CapturedAt: msg.CapturedAt,
	}
}

// DecodeInterestsEvent turns a raw interests payload into a peer event
func DecodeInterestsEvent(data []byte) proximity.PeerEvent {
	var msg InterestsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return malformed("", fmt.Errorf("decoding interests: %w", err))
	}
	if msg.PeerID == "" {
		return malformed("", errMissingPeer)
	}

	return proximity.PeerEvent{
		Kind:   proximity.EventInterestsChanged,
		PeerID: msg.PeerID,
		TagIDs: msg.TagIDs,
	}
}

// EncodePosition builds the position payload announced for userID
func EncodePosition(userID string, sample geo.PositionSample) ([]byte, error) {
	lat, lng := sample.Latitude, sample.Longitude
	return json.Marshal(PositionMessage{
		PeerID:     userID,
		Latitude:   &lat,
		Longitude:  &lng,
		CapturedAt: sample.CapturedAt,
	})
}

func malformed(peerID string, err error) proximity.PeerEvent {
	return proximity.PeerEvent{
		Kind:   proximity.EventMalformed,
		PeerID: peerID,
		Err:    err,
	}
}
