// internal/service/tracking/scheduler.go

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
)

// Phase is the scheduler's position in its state machine
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSampling  Phase = "sampling"
	PhaseScheduled Phase = "scheduled"
	PhaseStopped   Phase = "stopped"
)

var errInvalidFix = errors.New("provider returned an invalid coordinate")

// SchedulerConfig contains configuration for the sampling scheduler
type SchedulerConfig struct {
	Policy          IntervalPolicy
	Motion          geo.MotionRules
	ProviderTimeout time.Duration
	DegradedAfter   int
	HistorySize     int
	DwellWindow     time.Duration
}

// DefaultSchedulerConfig returns the canonical scheduler settings
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Policy:          DefaultIntervalPolicy(),
		Motion:          geo.DefaultMotionRules(),
		ProviderTimeout: 12 * time.Second,
		DegradedAfter:   3,
		HistorySize:     32,
		DwellWindow:     10 * time.Minute,
	}
}

// SampleHandler receives the outcome of every sampling attempt. Calls are
// made from the scheduler goroutine, one at a time.
type SampleHandler interface {
	HandleSample(ctx context.Context, sample geo.PositionSample)
	HandleSamplingFailure(err error)
}

// Report is a point-in-time view of the scheduler
type Report struct {
	Phase    Phase
	State    SessionState
	Motion   geo.MotionState
	Dwelling bool
	Degraded bool
}

// Scheduler takes position samples at an adaptive rate. It runs a single
// timer; Start is idempotent and no sample is handled once Stop returns.
type Scheduler struct {
	provider proximity.LocationProvider
	handler  SampleHandler
	config   SchedulerConfig
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	phase    Phase
	state    SessionState
	motion   geo.MotionState
	dwelling bool
	history  *geo.History

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates an idle scheduler
func NewScheduler(
	provider proximity.LocationProvider,
	handler SampleHandler,
	config SchedulerConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Scheduler {
	if config.HistorySize <= 0 {
		config.HistorySize = 32
	}
	if config.DegradedAfter <= 0 {
		config.DegradedAfter = 3
	}

	return &Scheduler{
		provider: provider,
		handler:  handler,
		config:   config,
		logger:   logger.With("component", "scheduler"),
		metrics:  metrics,
		phase:    PhaseIdle,
		history:  geo.NewHistory(config.HistorySize),
	}
}

// Start begins sampling immediately. Calling Start on a running or stopped
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseIdle {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.state = s.config.Policy.Initial()
	s.phase = PhaseSampling

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the timer and any outstanding provider call and waits for
// the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.phase == PhaseStopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.phase = PhaseStopped
	s.state.Active = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Report returns the current scheduling state
func (s *Scheduler) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	if state.LastSample != nil {
		last := *state.LastSample
		state.LastSample = &last
	}

	return Report{
		Phase:    s.phase,
		State:    state,
		Motion:   s.motion,
		Dwelling: s.dwelling,
		Degraded: state.ConsecutiveFailures >= s.config.DegradedAfter,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !s.enter(PhaseSampling) {
			return
		}

		next := s.sample(ctx)
		if ctx.Err() != nil {
			return
		}

		if !s.enter(PhaseScheduled) {
			return
		}
		s.metrics.ObserveInterval(next)
		timer.Reset(next)
	}
}

// enter moves to phase unless the scheduler has been stopped
func (s *Scheduler) enter(phase Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseStopped {
		return false
	}
	s.phase = phase
	return true
}

// sample takes one fix and returns the delay before the next one
func (s *Scheduler) sample(ctx context.Context) time.Duration {
	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	fix, err := s.provider.CurrentPosition(pctx, s.config.ProviderTimeout)
	cancel()

	if ctx.Err() != nil {
		return 0
	}
	if err == nil && !fix.Valid() {
		err = errInvalidFix
	}
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	prev := s.state.LastSample
	if prev != nil && !fix.CapturedAt.After(prev.CapturedAt) {
		next := s.state.CurrentInterval
		s.mu.Unlock()

		s.logger.Debug("Discarding out-of-order sample",
			"captured_at", fix.CapturedAt, "last_captured_at", prev.CapturedAt)
		s.metrics.ObserveSample("out_of_order")
		return next
	}

	rules := s.config.Motion
	// the first fix of a session has distance 0 and counts as stationary
	s.motion = geo.ClassifyMotion(prev, fix, rules)
	s.state = s.config.Policy.Observe(s.state, s.motion.DistanceFromPrevious)
	accepted := fix
	s.state.LastSample = &accepted

	s.history.Add(fix)
	s.dwelling = geo.IsStationary(s.history.Samples(), s.config.DwellWindow, rules.StationaryMeters)
	next := s.state.CurrentInterval
	s.mu.Unlock()

	s.metrics.ObserveSample("accepted")
	s.handler.HandleSample(ctx, fix)

	return next
}

func (s *Scheduler) fail(err error) time.Duration {
	s.mu.Lock()
	s.state = s.config.Policy.Backoff(s.state)
	failures := s.state.ConsecutiveFailures
	next := s.state.CurrentInterval
	s.mu.Unlock()

	s.logger.Warn("Sampling failed, backing off",
		"error", err, "consecutive_failures", failures, "next_interval", next)
	s.metrics.ObserveSample("failed")
	s.handler.HandleSamplingFailure(err)

	return next
}
