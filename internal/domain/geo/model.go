// internal/domain/geo/model.go

package geo

import (
	"time"
)

// Coordinate is a WGS84 point in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies inside the WGS84 ranges
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// PositionSample is a single fix produced by a device's location provider.
// Samples are immutable once created.
type PositionSample struct {
	Coordinate
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// MotionClass classifies how the device is moving
type MotionClass string

const (
	MotionTransit    MotionClass = "transit"
	MotionWalking    MotionClass = "walking"
	MotionStationary MotionClass = "stationary"
	MotionActivity   MotionClass = "activity"
	MotionUnknown    MotionClass = "unknown"
)

// MotionState is derived from two consecutive samples and never stored
type MotionState struct {
	DistanceFromPrevious float64     `json:"distance_from_previous"`
	Speed                float64     `json:"speed"`
	IsStationary         bool        `json:"is_stationary"`
	Classification       MotionClass `json:"classification"`
}

// MotionRules holds the thresholds used by ClassifyMotion
type MotionRules struct {
	TransitSpeed     float64 // m/s
	WalkingSpeed     float64 // m/s
	StationaryMeters float64

	// Home is an optional reference point supplied by a collaborator.
	// Slow samples within HomeRadius of it classify as stationary.
	Home       *Coordinate
	HomeRadius float64
}

// DefaultMotionRules returns the canonical thresholds
func DefaultMotionRules() MotionRules {
	return MotionRules{
		TransitSpeed:     15,
		WalkingSpeed:     2,
		StationaryMeters: 50,
		HomeRadius:       100,
	}
}
