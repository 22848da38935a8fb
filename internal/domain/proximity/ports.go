// internal/domain/proximity/ports.go

package proximity

import (
	"context"
	"time"

	"tribe/internal/domain/geo"
)

// LocationProvider produces the device's current position
type LocationProvider interface {
	// CurrentPosition returns a fix or an error once timeout elapses
	CurrentPosition(ctx context.Context, timeout time.Duration) (geo.PositionSample, error)
}

// PeerFinder is the backend geospatial query
type PeerFinder interface {
	// FindPeers returns users within radiusMeters of center that share at
	// least one of requiredTagIDs, excluding excludeUserID
	FindPeers(ctx context.Context, center geo.Coordinate, radiusMeters float64, requiredTagIDs []string, excludeUserID string) ([]Peer, error)

	// ViewerInterests returns the interests declared by a user
	ViewerInterests(ctx context.Context, userID string) ([]Interest, error)
}

// PositionWriter persists the user's current location
type PositionWriter interface {
	UpsertUserPosition(ctx context.Context, userID string, coordinate geo.Coordinate, capturedAt time.Time) error
}

// PositionAnnouncer broadcasts an accepted position to other sessions
type PositionAnnouncer interface {
	AnnouncePosition(ctx context.Context, userID string, sample geo.PositionSample) error
}

// Subscription is a live push-event subscription
type Subscription interface {
	Unsubscribe() error
}

// EventSource delivers both push-event streams into out until the returned
// subscription is torn down
type EventSource interface {
	Subscribe(ctx context.Context, out chan<- PeerEvent) (Subscription, error)
}

// Update is what the viewer sees after every change
type Update struct {
	Peers    []Peer   `json:"peers"`
	Filter   []string `json:"filter"`
	RadiusKm Radius   `json:"radius_km"`
	Status   Status   `json:"status"`
}

// Sink receives viewer-facing updates
type Sink interface {
	Deliver(update Update)
}
