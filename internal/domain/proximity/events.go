// internal/domain/proximity/events.go

package proximity

import (
	"time"

	"tribe/internal/domain/geo"
)

// EventKind identifies a realtime push event
type EventKind string

const (
	EventPositionChanged  EventKind = "position_changed"
	EventInterestsChanged EventKind = "interests_changed"
	EventResync           EventKind = "resync"
	EventMalformed        EventKind = "malformed"
)

// PeerEvent is a single push event delivered to the reconciler.
// Delivery may be duplicated or reordered.
type PeerEvent struct {
	Kind       EventKind
	PeerID     string
	Position   *geo.Coordinate
	TagIDs     []string
	CapturedAt time.Time

	// Err describes why a malformed event could not be decoded
	Err error
}
