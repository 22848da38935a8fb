// internal/service/nearby/reconciler.go

package nearby

import (
	"context"
	"log/slog"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/observability"
)

// Reconciler keeps the live snapshot eventually consistent with peer push
// events. It is the single consumer of the merged event stream.
type Reconciler struct {
	viewerID string
	store    *Store
	requery  func()
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewReconciler creates a reconciler for viewerID. requery must request a
// full proximity query without blocking.
func NewReconciler(
	viewerID string,
	store *Store,
	requery func(),
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Reconciler {
	return &Reconciler{
		viewerID: viewerID,
		store:    store,
		requery:  requery,
		logger:   logger.With("component", "reconciler"),
		metrics:  metrics,
	}
}

// Run consumes events until ctx is done or the channel is closed
func (r *Reconciler) Run(ctx context.Context, events <-chan proximity.PeerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ev)
		}
	}
}

// Handle applies a single event. Handling is idempotent per peer id and
// independent of arrival order.
func (r *Reconciler) Handle(ev proximity.PeerEvent) {
	switch ev.Kind {
	case proximity.EventResync:
		r.metrics.ObserveEvent(string(ev.Kind), "requery")
		r.logger.Info("push channel resynchronized, requesting full query")
		r.requery()
		return

	case proximity.EventMalformed:
		r.discard(ev, "malformed payload")
		return
	}

	if ev.PeerID == "" {
		r.discard(ev, "missing peer id")
		return
	}

	if ev.PeerID == r.viewerID {
		r.metrics.ObserveEvent(string(ev.Kind), "self")
		return
	}

	switch ev.Kind {
	case proximity.EventPositionChanged:
		r.handlePosition(ev)
	case proximity.EventInterestsChanged:
		// Overlap must be recomputed by the backend, never guessed locally
		r.metrics.ObserveEvent(string(ev.Kind), "requery")
		r.requery()
	default:
		r.discard(ev, "unknown event kind")
	}
}

func (r *Reconciler) handlePosition(ev proximity.PeerEvent) {
	if ev.Position == nil || !ev.Position.Valid() {
		r.discard(ev, "invalid position")
		return
	}

	center, radius, ok := r.store.Target()
	if !ok {
		// Nothing queried yet; the first query will see this peer
		r.metrics.ObserveEvent(string(ev.Kind), "ignored")
		return
	}

	distance := geo.DistanceMeters(center, *ev.Position)
	if distance > radius.Meters() {
		removed := r.store.Remove(ev.PeerID)
		action := "absent"
		if removed {
			action = "removed"
			r.logger.Debug("peer left the area", "peer", ev.PeerID, "distance", distance)
		}
		r.metrics.ObserveEvent(string(ev.Kind), action)
		return
	}

	r.store.Patch(ev.PeerID, *ev.Position, ev.CapturedAt)
	r.metrics.ObserveEvent(string(ev.Kind), "requery")
	r.requery()
}

func (r *Reconciler) discard(ev proximity.PeerEvent, reason string) {
	r.metrics.ObserveEvent(string(ev.Kind), "discarded")
	r.logger.Warn("discarding push event",
		"reason", reason,
		"kind", ev.Kind,
		"peer", ev.PeerID,
		"error", ev.Err,
	)
}
