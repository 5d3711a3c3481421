package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/garden-weather-service/internal/cache"
	"github.com/kjstillabower/garden-weather-service/internal/client"
	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/validation"
)

// DefaultTTL is how long a reading is served from cache after insertion.
const DefaultTTL = 15 * time.Minute

// WeatherService is the weather cache: readings are served from the cache while fresh and
// fetched from the provider on a miss. Concurrent misses for one key share a single fetch.
type WeatherService struct {
	provider client.WeatherProvider
	cache    cache.Cache
	ttl      time.Duration
	group    singleflight.Group
	logger   *zap.Logger
}

// NewWeatherService creates a WeatherService. A non-positive ttl uses DefaultTTL.
func NewWeatherService(provider client.WeatherProvider, c cache.Cache, ttl time.Duration, logger *zap.Logger) *WeatherService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		provider: provider,
		cache:    c,
		ttl:      ttl,
		logger:   logger,
	}
}

// GetWeather returns the reading for coord using the cache-aside pattern. Invalid coordinates
// are rejected with a validation error before the cache or provider is consulted. Cache
// failures are logged and treated as misses.
func (s *WeatherService) GetWeather(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.WeatherReading{}, err
	}
	key := coord.Key()
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	if cached, ok := s.lookup(ctx, logger, key); ok {
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		// The flight is shared; one caller's cancellation must not fail the others.
		fetchCtx := context.WithoutCancel(ctx)
		// Another flight may have populated the key between our miss and acquiring it.
		if cached, ok, err := s.cache.Get(fetchCtx, key); err == nil && ok {
			return cached, nil
		}
		reading, err := s.provider.Fetch(fetchCtx, coord)
		if err != nil {
			return nil, err
		}
		if setErr := s.cache.Set(fetchCtx, key, reading, s.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
		return reading, nil
	})
	if err != nil {
		return models.WeatherReading{}, fmt.Errorf("fetch weather for %s: %w", key, err)
	}
	logger.Debug("weather served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Bool("shared", shared),
		zap.Duration("duration", time.Since(start)),
	)
	return v.(models.WeatherReading), nil
}

func (s *WeatherService) lookup(ctx context.Context, logger *zap.Logger, key string) (models.WeatherReading, bool) {
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
		return models.WeatherReading{}, false
	}
	if !ok {
		observability.CacheMissesTotal.WithLabelValues("weather").Inc()
		return models.WeatherReading{}, false
	}
	observability.CacheHitsTotal.WithLabelValues("weather").Inc()
	return cached, true
}

// Invalidate drops the cached reading for coord.
func (s *WeatherService) Invalidate(ctx context.Context, coord models.Coordinate) error {
	return s.cache.Delete(ctx, coord.Key())
}

// categorizeCacheError returns a stable label for cache errors (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
