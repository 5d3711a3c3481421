// Package geo provides great-circle distances between coordinates.
package geo

import (
	"github.com/golang/geo/s2"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

// EarthRadiusMeters is the mean Earth radius, matching what MongoDB and MySQL use for spherical distance.
const EarthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b models.Coordinate) float64 {
	p := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	q := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p.Distance(q).Radians() * EarthRadiusMeters
}

// Within reports whether b lies within radiusMeters of a (inclusive).
func Within(a, b models.Coordinate, radiusMeters float64) bool {
	return Distance(a, b) <= radiusMeters
}
