// Package propagation applies one weather fetch to a garden and every garden near it.
package propagation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/store"
)

// DefaultRadiusMeters is the neighbor radius when none is configured.
const DefaultRadiusMeters = 1000.0

// WeatherSource returns a (possibly cached) reading for a coordinate.
type WeatherSource interface {
	GetWeather(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error)
}

// Propagator writes a single reading onto an origin garden and its neighbors.
type Propagator struct {
	store        store.Store
	weather      WeatherSource
	radiusMeters float64
	logger       *zap.Logger
}

// New returns a Propagator. A non-positive radius uses DefaultRadiusMeters.
func New(s store.Store, weather WeatherSource, radiusMeters float64, logger *zap.Logger) *Propagator {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{store: s, weather: weather, radiusMeters: radiusMeters, logger: logger}
}

// RadiusMeters reports the configured neighbor radius.
func (p *Propagator) RadiusMeters() float64 {
	return p.radiusMeters
}

// Propagate loads the origin garden, obtains one reading for its location and writes it to the
// origin and every other garden within the radius. The returned updates start with the origin
// and list only gardens actually written. Writes are not transactional: if a neighbor write
// fails, earlier writes stand and the error is returned with the partial updates, and a retry
// converges.
func (p *Propagator) Propagate(ctx context.Context, originID string) ([]models.GardenWeather, error) {
	origin, err := p.store.FindByID(ctx, originID)
	if err != nil {
		return nil, fmt.Errorf("load origin %s: %w", originID, err)
	}

	reading, err := p.weather.GetWeather(ctx, origin.Location)
	if err != nil {
		return nil, fmt.Errorf("weather for %s: %w", originID, err)
	}

	if err := p.store.UpdateWeather(ctx, origin.ID, reading); err != nil {
		return nil, fmt.Errorf("update origin %s: %w", originID, err)
	}
	observability.PropagationUpdatesTotal.Inc()
	updates := []models.GardenWeather{{GardenID: origin.ID, Reading: reading}}

	neighbors, err := p.store.FindWithinRadius(ctx, origin.Location, p.radiusMeters, origin.ID)
	if err != nil {
		return updates, fmt.Errorf("find neighbors of %s: %w", originID, err)
	}
	for _, n := range neighbors {
		if err := p.store.UpdateWeather(ctx, n.ID, reading); err != nil {
			return updates, fmt.Errorf("update neighbor %s of %s: %w", n.ID, originID, err)
		}
		observability.PropagationUpdatesTotal.Inc()
		updates = append(updates, models.GardenWeather{GardenID: n.ID, Reading: reading})
	}

	p.logger.Debug("weather propagated",
		zap.String("origin_id", originID),
		zap.Int("neighbors", len(neighbors)),
		zap.Float64("radius_meters", p.radiusMeters),
	)
	return updates, nil
}
