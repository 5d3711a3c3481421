package validation

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

func TestValidateCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		in      models.Coordinate
		wantErr error
	}{
		{"origin", models.Coordinate{}, nil},
		{"paris", models.Coordinate{Longitude: 2.3522, Latitude: 48.8566}, nil},
		{"bounds inclusive", models.Coordinate{Longitude: -180, Latitude: 90}, nil},
		{"longitude too high", models.Coordinate{Longitude: 200, Latitude: 0}, ErrLongitudeRange},
		{"longitude too low", models.Coordinate{Longitude: -180.0001, Latitude: 0}, ErrLongitudeRange},
		{"latitude too high", models.Coordinate{Longitude: 0, Latitude: 91}, ErrLatitudeRange},
		{"latitude too low", models.Coordinate{Longitude: 0, Latitude: -90.5}, ErrLatitudeRange},
		{"nan", models.Coordinate{Longitude: math.NaN(), Latitude: 0}, ErrCoordinatesValues},
		{"inf", models.Coordinate{Longitude: 0, Latitude: math.Inf(1)}, ErrCoordinatesValues},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCoordinate(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateCoordinate(%+v) = %v, want %v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestCoordinateFromSlice(t *testing.T) {
	tests := []struct {
		name    string
		in      []float64
		wantErr error
	}{
		{"nil", nil, ErrLocationMissing},
		{"one element", []float64{1}, ErrCoordinatesFormat},
		{"three elements", []float64{1, 2, 3}, ErrCoordinatesFormat},
		{"out of range longitude", []float64{200, 0}, ErrLongitudeRange},
		{"valid", []float64{2.3522, 48.8566}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := CoordinateFromSlice(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("CoordinateFromSlice(%v) error = %v, want %v", tc.in, err, tc.wantErr)
			}
			if err == nil && (c.Longitude != tc.in[0] || c.Latitude != tc.in[1]) {
				t.Errorf("CoordinateFromSlice(%v) = %+v, want lon/lat order preserved", tc.in, c)
			}
		})
	}
}

func TestCoordinateFromFields_Missing(t *testing.T) {
	lat := 10.0
	if _, err := CoordinateFromFields(&lat, nil); !errors.Is(err, ErrLocationMissing) {
		t.Errorf("error = %v, want ErrLocationMissing", err)
	}
	if _, err := CoordinateFromFields(nil, &lat); !errors.Is(err, ErrLocationMissing) {
		t.Errorf("error = %v, want ErrLocationMissing", err)
	}
}

func TestIsValidationError(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", ErrLatitudeRange)
	if !IsValidationError(wrapped) {
		t.Error("IsValidationError(wrapped) = false, want true")
	}
	if IsValidationError(errors.New("boom")) {
		t.Error("IsValidationError(plain) = true, want false")
	}
	if got := wrapped.Error(); got != "fetch: Latitude must be between -90 and 90" {
		t.Errorf("message = %q", got)
	}
}
