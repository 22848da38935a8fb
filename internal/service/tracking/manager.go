// internal/service/tracking/manager.go

package tracking

import (
	"context"
	"log/slog"
	"sync"

	"tribe/internal/domain/proximity"
	"tribe/internal/observability"
	"tribe/internal/service/nearby"
)

// Manager keeps at most one tracking session per user
type Manager struct {
	engine    *nearby.Engine
	writer    proximity.PositionWriter
	announcer proximity.PositionAnnouncer
	events    proximity.EventSource
	config    SessionConfig
	logger    *slog.Logger
	metrics   *observability.Metrics

	sessions map[string]*Session
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewManager creates a session manager. announcer and events may be nil.
func NewManager(
	engine *nearby.Engine,
	writer proximity.PositionWriter,
	announcer proximity.PositionAnnouncer,
	events proximity.EventSource,
	config SessionConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		engine:    engine,
		writer:    writer,
		announcer: announcer,
		events:    events,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		sessions:  make(map[string]*Session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start returns the user's running session, starting one first if none is
// active. The boolean reports whether a new session was started.
func (m *Manager) Start(userID string, provider proximity.LocationProvider, sink proximity.Sink) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, false
	}

	s := NewSession(userID, provider, sink, m.engine, m.writer, m.announcer, m.events, m.config, m.logger, m.metrics)
	m.sessions[userID] = s
	s.Start(m.ctx)
	m.metrics.SessionStarted()

	return s, true
}

// Get returns the user's session
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, proximity.ErrSessionNotFound
	}
	return s, nil
}

// Stop stops the user's session
func (m *Manager) Stop(userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return proximity.ErrSessionNotFound
	}

	s.Stop()
	m.metrics.SessionStopped()
	return nil
}

// Release stops s if it is still the user's registered session. Device
// links call it on disconnect so they never stop a successor session.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	current, ok := m.sessions[s.UserID()]
	owned := ok && current == s
	if owned {
		delete(m.sessions, s.UserID())
	}
	m.mu.Unlock()

	if owned {
		s.Stop()
		m.metrics.SessionStopped()
	}
}

// SetFilter replaces the user's tag selection
func (m *Manager) SetFilter(userID string, tagIDs []string) (proximity.Update, error) {
	s, err := m.Get(userID)
	if err != nil {
		return proximity.Update{}, err
	}
	return s.SetFilter(tagIDs), nil
}

// SetRadius changes the user's query radius
func (m *Manager) SetRadius(userID string, radius proximity.Radius) error {
	s, err := m.Get(userID)
	if err != nil {
		return err
	}
	return s.SetRadius(radius)
}

// Nearby returns the peers the user currently sees
func (m *Manager) Nearby(userID string) (proximity.Update, error) {
	s, err := m.Get(userID)
	if err != nil {
		return proximity.Update{}, err
	}
	return s.Nearby(), nil
}

// Status returns the health of the user's session
func (m *Manager) Status(userID string) (proximity.Status, error) {
	s, err := m.Get(userID)
	if err != nil {
		return proximity.Status{}, err
	}
	return s.Status(), nil
}

// ActiveSessions returns the number of running sessions
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// StopAll stops every session, giving up when ctx is done
func (m *Manager) StopAll(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
			m.metrics.SessionStopped()
		}(s)
	}

	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()

	select {
	case <-c:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
