package validation

import (
	"errors"
	"math"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

// ValidationError is a malformed-input failure. Its message is safe to show to clients verbatim.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// ErrLocationMissing is returned when no coordinate was supplied at all.
var ErrLocationMissing = &ValidationError{msg: "Invalid location data"}

// ErrCoordinatesFormat is returned when coordinates are not exactly a [longitude, latitude] pair.
var ErrCoordinatesFormat = &ValidationError{msg: "Invalid coordinates format"}

// ErrCoordinatesValues is returned for NaN or infinite components.
var ErrCoordinatesValues = &ValidationError{msg: "Invalid coordinates values"}

// ErrLatitudeRange is returned when latitude is outside [-90, 90].
var ErrLatitudeRange = &ValidationError{msg: "Latitude must be between -90 and 90"}

// ErrLongitudeRange is returned when longitude is outside [-180, 180].
var ErrLongitudeRange = &ValidationError{msg: "Longitude must be between -180 and 180"}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateCoordinate checks that both components are finite and in range. Values are never clamped.
func ValidateCoordinate(c models.Coordinate) error {
	if !isFinite(c.Longitude) || !isFinite(c.Latitude) {
		return ErrCoordinatesValues
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return ErrLatitudeRange
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return ErrLongitudeRange
	}
	return nil
}

// CoordinateFromSlice converts a GeoJSON-style [longitude, latitude] pair and validates it.
func CoordinateFromSlice(pair []float64) (models.Coordinate, error) {
	if pair == nil {
		return models.Coordinate{}, ErrLocationMissing
	}
	if len(pair) != 2 {
		return models.Coordinate{}, ErrCoordinatesFormat
	}
	c := models.Coordinate{Longitude: pair[0], Latitude: pair[1]}
	if err := ValidateCoordinate(c); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

// CoordinateFromFields builds a coordinate from optional latitude/longitude fields, as decoded
// from a client message where either may be absent.
func CoordinateFromFields(latitude, longitude *float64) (models.Coordinate, error) {
	if latitude == nil || longitude == nil {
		return models.Coordinate{}, ErrLocationMissing
	}
	c := models.Coordinate{Longitude: *longitude, Latitude: *latitude}
	if err := ValidateCoordinate(c); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
