// internal/service/tracking/interval.go

package tracking

import (
	"time"

	"tribe/internal/domain/geo"
)

// IntervalPolicy computes how long to wait before the next position sample
type IntervalPolicy struct {
	Base             time.Duration
	Step             time.Duration
	Min              time.Duration
	Max              time.Duration
	StationaryMeters float64
	BackoffFactor    float64
}

// DefaultIntervalPolicy returns the canonical sampling policy
func DefaultIntervalPolicy() IntervalPolicy {
	return IntervalPolicy{
		Base:             30 * time.Second,
		Step:             30 * time.Second,
		Min:              15 * time.Second,
		Max:              5 * time.Minute,
		StationaryMeters: 50,
		BackoffFactor:    1.5,
	}
}

// SessionState is the scheduling state of one tracking session. It is a
// plain value owned by the scheduler task; policy methods return a new value.
type SessionState struct {
	Active              bool
	LastSample          *geo.PositionSample
	CurrentInterval     time.Duration
	StationaryStreak    int
	ConsecutiveFailures int
}

// Initial returns the state of a freshly started session
func (p IntervalPolicy) Initial() SessionState {
	return SessionState{
		Active:          true,
		CurrentInterval: p.clamp(p.Base),
	}
}

// Observe adjusts the interval after an accepted sample that moved distance
// meters from the previous one. Staying put relaxes the rate step by step;
// moving tightens it in proportion to the distance covered.
func (p IntervalPolicy) Observe(state SessionState, distance float64) SessionState {
	if distance < p.StationaryMeters {
		state.StationaryStreak++
		state.CurrentInterval = p.clamp(p.Base + time.Duration(state.StationaryStreak)*p.Step)
	} else {
		state.StationaryStreak = 0
		shrink := time.Duration(distance / 10 * float64(time.Millisecond))
		state.CurrentInterval = p.clamp(p.Base - shrink)
	}

	state.ConsecutiveFailures = 0
	return state
}

// Backoff slows sampling after a provider failure. The stationary streak
// is preserved.
func (p IntervalPolicy) Backoff(state SessionState) SessionState {
	state.CurrentInterval = p.clamp(time.Duration(float64(state.CurrentInterval) * p.BackoffFactor))
	state.ConsecutiveFailures++
	return state
}

func (p IntervalPolicy) clamp(d time.Duration) time.Duration {
	if d < p.Min {
		return p.Min
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
