package geo

import (
	"math"
	"testing"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

func TestDistance(t *testing.T) {
	origin := models.Coordinate{}
	tests := []struct {
		name string
		to   models.Coordinate
		want float64
		tol  float64
	}{
		{"same point", models.Coordinate{}, 0, 1e-9},
		// One thousandth of a degree of longitude at the equator is ~111.2 m.
		{"small east offset", models.Coordinate{Longitude: 0.001}, 111.19, 0.1},
		{"one degree north", models.Coordinate{Latitude: 1}, 111195, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(origin, tc.to)
			if math.Abs(got-tc.want) > tc.tol {
				t.Errorf("Distance(origin, %+v) = %f, want %f ± %f", tc.to, got, tc.want, tc.tol)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	origin := models.Coordinate{}
	if !Within(origin, models.Coordinate{Longitude: 0.005}, 1000) {
		t.Error("~556 m should be within 1000 m")
	}
	if Within(origin, models.Coordinate{Longitude: 0.01}, 1000) {
		t.Error("~1112 m should not be within 1000 m")
	}
}
