package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
)

// WeatherFetcher is implemented by the service layer to fetch weather for a coordinate.
// Used by Warmer to avoid a circular dependency on the service package.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error)
}

// warmConcurrency caps in-flight provider calls during a warm.
const warmConcurrency = 4

// Warmer populates the cache by prefetching readings for a set of coordinates.
type Warmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger. logger may be nil.
func NewWarmer(fetcher WeatherFetcher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches readings for each distinct coordinate concurrently. Every coordinate is
// attempted; failures are joined into the returned error.
func (w *Warmer) Warm(ctx context.Context, coords []models.Coordinate) error {
	start := time.Now()
	seen := make(map[string]struct{}, len(coords))
	unique := make([]models.Coordinate, 0, len(coords))
	for _, c := range coords {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		unique = append(unique, c)
	}
	w.logger.Info("warming cache", zap.Int("locations", len(unique)))

	errs := make([]error, len(unique))
	var g errgroup.Group
	g.SetLimit(warmConcurrency)
	for i, coord := range unique {
		i, coord := i, coord
		g.Go(func() error {
			if _, err := w.fetcher.GetWeather(ctx, coord); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", coord.Key(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	if failed > 0 {
		observability.CacheErrorsTotal.WithLabelValues("warm").Add(float64(failed))
	}
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(unique)),
		zap.Int("errors", failed),
		zap.Float64("duration_seconds", time.Since(start).Seconds()),
	)
	return err
}
