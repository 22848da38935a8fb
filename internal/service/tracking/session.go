// internal/service/tracking/session.go

package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/observability"
	"tribe/internal/service/nearby"
)

// SessionConfig contains configuration for a tracking session
type SessionConfig struct {
	Scheduler     SchedulerConfig
	Publisher     PublisherConfig
	DefaultRadius proximity.Radius
	EventBuffer   int
}

// Session tracks one user: it samples the device position, publishes it,
// keeps the nearby snapshot fresh and pushes the filtered view to the sink
type Session struct {
	userID     string
	engine     *nearby.Engine
	events     proximity.EventSource
	scheduler  *Scheduler
	publisher  *Publisher
	store      *nearby.Store
	view       *nearby.View
	reconciler *nearby.Reconciler
	config     SessionConfig
	logger     *slog.Logger
	metrics    *observability.Metrics

	requests chan struct{}
	inbox    chan proximity.PeerEvent

	mu            sync.Mutex
	refreshFailed bool
	noInterests   bool
	startedAt     time.Time
	sub           proximity.Subscription

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSession wires a session for userID. Nothing runs until Start.
func NewSession(
	userID string,
	provider proximity.LocationProvider,
	sink proximity.Sink,
	engine *nearby.Engine,
	writer proximity.PositionWriter,
	announcer proximity.PositionAnnouncer,
	events proximity.EventSource,
	config SessionConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Session {
	if !config.DefaultRadius.Valid() {
		config.DefaultRadius = proximity.Radius10Km
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	logger = logger.With("user_id", userID)

	s := &Session{
		userID:   userID,
		engine:   engine,
		events:   events,
		config:   config,
		logger:   logger.With("component", "session"),
		metrics:  metrics,
		requests: make(chan struct{}, 1),
		inbox:    make(chan proximity.PeerEvent, config.EventBuffer),
	}

	s.view = nearby.NewView(config.DefaultRadius, sink, s.Status)
	s.store = nearby.NewStore(config.DefaultRadius, s.view.OnSnapshot)
	s.publisher = NewPublisher(userID, writer, announcer, config.Publisher, logger, metrics)
	s.scheduler = NewScheduler(provider, s, config.Scheduler, logger, metrics)
	s.reconciler = nearby.NewReconciler(userID, s.store, s.requestQuery, logger, metrics)

	return s
}

// UserID returns the tracked user
func (s *Session) UserID() string {
	return s.userID
}

// Start subscribes to peer events and begins sampling. It is idempotent.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)

		s.mu.Lock()
		s.startedAt = time.Now()
		s.mu.Unlock()

		if s.events != nil {
			sub, err := s.events.Subscribe(ctx, s.inbox)
			if err != nil {
				// Log error but continue; snapshots still refresh on movement
				s.logger.Error("Failed to subscribe to peer events", "error", err)
			} else {
				s.mu.Lock()
				s.sub = sub
				s.mu.Unlock()
			}
		}

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.reconciler.Run(ctx, s.inbox)
		}()
		go func() {
			defer s.wg.Done()
			s.queryLoop(ctx)
		}()

		s.scheduler.Start(ctx)
		s.logger.Info("Tracking session started")
	})
}

// Stop tears the session down. When it returns the timer, the in-flight
// query and the event subscription are gone and no result is applied.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.startOnce.Do(func() {})
		s.view.Close()
		s.scheduler.Stop()
		s.store.Close()
		if s.cancel != nil {
			s.cancel()
		}

		s.mu.Lock()
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()

		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Warn("Failed to unsubscribe from peer events", "error", err)
			}
		}

		s.wg.Wait()
		s.logger.Info("Tracking session stopped")
	})
}

// HandleSample publishes an accepted sample and refreshes the peers when
// the viewer moved far enough or the previous refresh failed
func (s *Session) HandleSample(ctx context.Context, sample geo.PositionSample) {
	s.mu.Lock()
	refreshFailed := s.refreshFailed
	s.mu.Unlock()

	if s.publisher.Publish(ctx, sample, s.store.HasSnapshot() && !refreshFailed) {
		s.store.SetCenter(sample.Coordinate)
		s.refresh()
		return
	}
	s.view.Refresh()
}

// HandleSamplingFailure surfaces the degraded state to the viewer
func (s *Session) HandleSamplingFailure(error) {
	s.view.Refresh()
}

// SetFilter replaces the viewer's tag selection. It never queries the backend.
func (s *Session) SetFilter(tagIDs []string) proximity.Update {
	s.view.SetFilter(tagIDs)
	return s.view.Current()
}

// SetRadius changes the query radius and re-queries around the current center
func (s *Session) SetRadius(radius proximity.Radius) error {
	if !radius.Valid() {
		return proximity.ErrInvalidRadius
	}

	s.store.SetRadius(radius)
	s.view.SetRadius(radius)
	s.refresh()
	return nil
}

// Nearby returns what the viewer currently sees
func (s *Session) Nearby() proximity.Update {
	return s.view.Current()
}

// Snapshot returns a copy of the unfiltered nearby snapshot
func (s *Session) Snapshot() (proximity.Snapshot, bool) {
	return s.store.Snapshot()
}

// Status reports the session health
func (s *Session) Status() proximity.Status {
	report := s.scheduler.Report()

	s.mu.Lock()
	refreshFailed, noInterests := s.refreshFailed, s.noInterests
	s.mu.Unlock()

	return proximity.Status{
		Active:              report.State.Active,
		TrackingDegraded:    report.Degraded,
		WriteFailing:        s.publisher.WriteFailing(),
		RefreshFailed:       refreshFailed,
		NoInterests:         noInterests,
		ConsecutiveFailures: report.State.ConsecutiveFailures,
		StationaryStreak:    report.State.StationaryStreak,
		IntervalMs:          report.State.CurrentInterval.Milliseconds(),
		Motion:              report.Motion,
		Dwelling:            report.Dwelling,
	}
}

// refresh supersedes any in-flight query with a new one
func (s *Session) refresh() {
	s.store.CancelInflight()
	s.requestQuery()
}

// requestQuery asks for a full query without blocking. Requests made while
// one is pending collapse into it.
func (s *Session) requestQuery() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

func (s *Session) queryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.requests:
			s.runQuery(ctx)
		}
	}
}

func (s *Session) runQuery(ctx context.Context) {
	ticket, qctx, cancel, ok := s.store.Begin(ctx)
	if !ok {
		return
	}
	defer cancel()

	snapshot, err := s.query(qctx, ticket)

	switch {
	case errors.Is(err, proximity.ErrNoInterests):
		empty := proximity.Snapshot{
			Center:    ticket.Center,
			Radius:    ticket.Radius,
			FetchedAt: time.Now(),
		}
		if s.store.Replace(ticket, empty) {
			s.setFlags(false, true)
		}
	case err != nil:
		if qctx.Err() != nil {
			// superseded by a newer query or stopped
			return
		}
		s.logger.Warn("Keeping previous nearby snapshot", "error", err)
		s.setFlags(true, false)
	default:
		if s.store.Replace(ticket, snapshot) {
			s.setFlags(false, false)
		}
	}
}

func (s *Session) query(ctx context.Context, ticket nearby.Ticket) (proximity.Snapshot, error) {
	interests, err := s.engine.ViewerInterests(ctx, s.userID)
	if err != nil {
		return proximity.Snapshot{}, err
	}

	tags := make([]string, 0, len(interests))
	for _, interest := range interests {
		tags = append(tags, interest.ID)
	}

	return s.engine.Query(ctx, nearby.Request{
		ViewerID:       s.userID,
		Center:         ticket.Center,
		Radius:         ticket.Radius,
		RequiredTagIDs: tags,
	})
}

// setFlags records the outcome of the latest query and re-sends the view
// when the status changed
func (s *Session) setFlags(refreshFailed, noInterests bool) {
	s.mu.Lock()
	changed := s.refreshFailed != refreshFailed || s.noInterests != noInterests
	s.refreshFailed = refreshFailed
	s.noInterests = noInterests
	s.mu.Unlock()

	if changed {
		s.view.Refresh()
	}
}
