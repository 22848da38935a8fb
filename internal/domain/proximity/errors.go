// internal/domain/proximity/errors.go

package proximity

import (
	"errors"
)

var (
	// ErrNoInterests means the viewer declared no interests, so no peer can
	// ever share one. Callers prompt the viewer instead of showing an empty map.
	ErrNoInterests = errors.New("no interests declared")

	// ErrInvalidRadius is returned for radii outside the enumerated set
	ErrInvalidRadius = errors.New("radius must be 5, 10 or 25 km")

	// ErrRefreshFailed wraps backend failures of a proximity query
	ErrRefreshFailed = errors.New("could not refresh nearby members")

	// ErrLocationTimeout is returned by providers that did not produce a fix in time
	ErrLocationTimeout = errors.New("location provider timed out")

	// ErrSessionNotFound is returned when no tracking session exists for a user
	ErrSessionNotFound = errors.New("tracking session not found")
)

// Reason codes exposed to the viewer
const (
	ReasonNoInterests      = "no_interests"
	ReasonRefreshFailed    = "refresh_failed"
	ReasonTrackingDegraded = "tracking_degraded"
	ReasonWriteFailing     = "write_failing"
)

// ReasonFor maps an error to the viewer-facing reason code, or "" when the
// error is internal
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoInterests):
		return ReasonNoInterests
	case errors.Is(err, ErrRefreshFailed):
		return ReasonRefreshFailed
	default:
		return ""
	}
}
