// internal/service/tracking/publisher.go

package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/observability"
)

// PublisherConfig contains configuration for the position publisher
type PublisherConfig struct {
	WriteTimeout  time.Duration
	RequeryMeters float64
}

// Publisher pushes accepted samples to the backend and decides when the
// viewer has moved far enough to refresh the nearby peers
type Publisher struct {
	userID    string
	writer    proximity.PositionWriter
	announcer proximity.PositionAnnouncer
	config    PublisherConfig
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu           sync.Mutex
	lastSample   *geo.PositionSample
	lastQueried  *geo.PositionSample
	writeFailing bool
}

// NewPublisher creates a publisher for userID. announcer may be nil.
func NewPublisher(
	userID string,
	writer proximity.PositionWriter,
	announcer proximity.PositionAnnouncer,
	config PublisherConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Publisher {
	if config.RequeryMeters <= 0 {
		config.RequeryMeters = 100
	}

	return &Publisher{
		userID:    userID,
		writer:    writer,
		announcer: announcer,
		config:    config,
		logger:    logger.With("component", "publisher", "user_id", userID),
		metrics:   metrics,
	}
}

// Publish writes the sample as the user's current location and reports
// whether it should trigger a proximity query. current is false when there
// is no snapshot yet or the last refresh failed; such samples always query.
// A failed write never blocks the local update; the next natural sample
// retries it.
func (p *Publisher) Publish(ctx context.Context, sample geo.PositionSample, current bool) bool {
	p.write(ctx, sample)

	if p.announcer != nil {
		if err := p.announcer.AnnouncePosition(ctx, p.userID, sample); err != nil {
			// Log error but continue
			p.logger.Warn("Failed to announce position", "error", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	accepted := sample
	p.lastSample = &accepted

	requery := !current || p.lastQueried == nil ||
		geo.DistanceMeters(p.lastQueried.Coordinate, sample.Coordinate) > p.config.RequeryMeters
	if requery {
		p.lastQueried = &accepted
	}

	return requery
}

// LastSample returns the most recently published sample
func (p *Publisher) LastSample() (geo.PositionSample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastSample == nil {
		return geo.PositionSample{}, false
	}
	return *p.lastSample, true
}

// WriteFailing reports whether the latest backend write failed
func (p *Publisher) WriteFailing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeFailing
}

func (p *Publisher) write(ctx context.Context, sample geo.PositionSample) {
	wctx := ctx
	if p.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, p.config.WriteTimeout)
		defer cancel()
	}

	err := p.writer.UpsertUserPosition(wctx, p.userID, sample.Coordinate, sample.CapturedAt)
	p.metrics.ObserveWrite(err)

	p.mu.Lock()
	p.writeFailing = err != nil
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Failed to write position", "error", err)
	}
}
