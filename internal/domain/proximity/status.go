// internal/domain/proximity/status.go

package proximity

import (
	"tribe/internal/domain/geo"
)

// Status describes the health of a tracking session as seen by the viewer
type Status struct {
	Active              bool            `json:"active"`
	TrackingDegraded    bool            `json:"tracking_degraded"`
	WriteFailing        bool            `json:"write_failing"`
	RefreshFailed       bool            `json:"refresh_failed"`
	NoInterests         bool            `json:"no_interests"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	StationaryStreak    int             `json:"stationary_streak"`
	IntervalMs          int64           `json:"interval_ms"`
	Motion              geo.MotionState `json:"motion"`
	Dwelling            bool            `json:"dwelling"`
}

// Reasons lists the user-visible reason codes currently raised
func (s Status) Reasons() []string {
	var reasons []string
	if s.TrackingDegraded {
		reasons = append(reasons, ReasonTrackingDegraded)
	}
	if s.RefreshFailed {
		reasons = append(reasons, ReasonRefreshFailed)
	}
	if s.NoInterests {
		reasons = append(reasons, ReasonNoInterests)
	}
	return reasons
}
