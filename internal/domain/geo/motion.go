// internal/domain/geo/motion.go

package geo

import (
	"time"
)

// ClassifyMotion derives the motion state between prev and curr.
// A nil prev yields an unknown, zero-valued state.
func ClassifyMotion(prev *PositionSample, curr PositionSample, rules MotionRules) MotionState {
	if prev == nil {
		return MotionState{Classification: MotionUnknown}
	}

	distance := DistanceMeters(prev.Coordinate, curr.Coordinate)

	var speed float64
	if elapsed := curr.CapturedAt.Sub(prev.CapturedAt).Seconds(); elapsed > 0 {
		speed = distance / elapsed
	}

	state := MotionState{
		DistanceFromPrevious: distance,
		Speed:                speed,
		IsStationary:         distance < rules.StationaryMeters,
	}

	switch {
	case speed > rules.TransitSpeed:
		state.Classification = MotionTransit
	case speed > rules.WalkingSpeed:
		state.Classification = MotionWalking
	case rules.Home != nil && WithinRadius(*rules.Home, curr.Coordinate, rules.HomeRadius):
		state.Classification = MotionStationary
	default:
		state.Classification = MotionActivity
	}

	return state
}

// IsStationary reports whether every sample captured within window of the
// most recent sample lies within thresholdMeters of it. Samples may be in
// any order; an empty history is not stationary.
func IsStationary(history []PositionSample, window time.Duration, thresholdMeters float64) bool {
	if len(history) == 0 {
		return false
	}

	latest := history[0]
	for _, s := range history[1:] {
		if s.CapturedAt.After(latest.CapturedAt) {
			latest = s
		}
	}

	cutoff := latest.CapturedAt.Add(-window)
	for _, s := range history {
		if s.CapturedAt.Before(cutoff) {
			continue
		}
		if DistanceMeters(latest.Coordinate, s.Coordinate) > thresholdMeters {
			return false
		}
	}

	return true
}
