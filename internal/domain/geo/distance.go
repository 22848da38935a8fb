// internal/domain/geo/distance.go

package geo

import (
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two coordinates.
// s2 computes the central angle with the haversine-stable atan2 form, which
// keeps sub-meter precision at short range.
func DistanceMeters(a, b Coordinate) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// WithinRadius checks if point lies within radiusMeters of center
func WithinRadius(center, point Coordinate, radiusMeters float64) bool {
	return DistanceMeters(center, point) <= radiusMeters
}
