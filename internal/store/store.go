// Package store provides garden persistence: lookups by id and owner, radius queries, and
// the weather write used by propagation.
package store

import (
	"context"
	"errors"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

// ErrNotFound is returned when a garden id does not exist.
var ErrNotFound = errors.New("garden not found")

// Store is the garden storage collaborator.
type Store interface {
	FindByID(ctx context.Context, id string) (models.Garden, error)
	// FindWithinRadius returns gardens whose location is within radiusMeters of point,
	// excluding excludeID.
	FindWithinRadius(ctx context.Context, point models.Coordinate, radiusMeters float64, excludeID string) ([]models.Garden, error)
	FindByOwner(ctx context.Context, ownerID string) ([]models.Garden, error)
	UpdateWeather(ctx context.Context, id string, reading models.WeatherReading) error
	ListAll(ctx context.Context) ([]models.Garden, error)
}
