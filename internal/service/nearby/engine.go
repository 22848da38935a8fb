// internal/service/nearby/engine.go

package nearby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/observability"
)

// EngineConfig contains configuration for the proximity query engine
type EngineConfig struct {
	QueryTimeout time.Duration
}

// Request describes a single proximity query
type Request struct {
	ViewerID       string
	Center         geo.Coordinate
	Radius         proximity.Radius
	RequiredTagIDs []string
}

// Engine issues proximity queries against the backend
type Engine struct {
	finder  proximity.PeerFinder
	config  EngineConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEngine creates a new proximity query engine
func NewEngine(
	finder proximity.PeerFinder,
	config EngineConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		finder:  finder,
		config:  config,
		logger:  logger.With("component", "query_engine"),
		metrics: metrics,
		now:     time.Now,
	}
}

// ViewerInterests resolves the interests the viewer declared
func (e *Engine) ViewerInterests(ctx context.Context, viewerID string) ([]proximity.Interest, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	interests, err := e.finder.ViewerInterests(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading interests: %w", proximity.ErrRefreshFailed, err)
	}
	return interests, nil
}

// Query returns a fresh snapshot of peers within the radius that share at
// least one required tag. It never returns a delta.
func (e *Engine) Query(ctx context.Context, req Request) (proximity.Snapshot, error) {
	if !req.Radius.Valid() {
		return proximity.Snapshot{}, fmt.Errorf("%w: %d km", proximity.ErrInvalidRadius, req.Radius)
	}

	required := proximity.NewTagSet(req.RequiredTagIDs...)
	if len(required) == 0 {
		e.metrics.ObserveQuery("no_interests", 0)
		return proximity.Snapshot{}, proximity.ErrNoInterests
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	started := e.now()
	peers, err := e.finder.FindPeers(ctx, req.Center, req.Radius.Meters(), required.IDs(), req.ViewerID)
	elapsed := e.now().Sub(started)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		e.metrics.ObserveQuery(outcome, elapsed)
		return proximity.Snapshot{}, fmt.Errorf("%w: %w", proximity.ErrRefreshFailed, err)
	}

	kept := e.sanitize(req, required, peers)
	e.metrics.ObserveQuery("ok", elapsed)
	e.logger.Debug("proximity query complete",
		"viewer", req.ViewerID,
		"radius_km", int(req.Radius),
		"returned", len(peers),
		"kept", len(kept),
		"elapsed", elapsed,
	)

	return proximity.Snapshot{
		Center:         req.Center,
		Radius:         req.Radius,
		RequiredTagIDs: required.IDs(),
		Peers:          kept,
		FetchedAt:      e.now(),
	}, nil
}

// sanitize re-checks the backend's result: the viewer, duplicate ids,
// out-of-radius peers and peers with no shared interest are dropped
func (e *Engine) sanitize(req Request, required proximity.TagSet, peers []proximity.Peer) []proximity.Peer {
	seen := make(map[string]bool, len(peers))
	kept := make([]proximity.Peer, 0, len(peers))

	for _, p := range peers {
		if p.ID == "" || p.ID == req.ViewerID || seen[p.ID] {
			continue
		}
		if p.DistanceMeters > req.Radius.Meters() {
			continue
		}

		shared := make([]proximity.SharedInterest, 0, len(p.SharedInterests))
		for _, si := range p.SharedInterests {
			if required.Has(si.ID) {
				shared = append(shared, si)
			}
		}
		if len(shared) == 0 {
			continue
		}

		p.SharedInterests = shared
		seen[p.ID] = true
		kept = append(kept, p)
	}

	return kept
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.QueryTimeout)
}
