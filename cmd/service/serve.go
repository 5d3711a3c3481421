package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/garden-weather-service/internal/auth"
	"github.com/kjstillabower/garden-weather-service/internal/cache"
	"github.com/kjstillabower/garden-weather-service/internal/client"
	"github.com/kjstillabower/garden-weather-service/internal/config"
	httphandler "github.com/kjstillabower/garden-weather-service/internal/http"
	"github.com/kjstillabower/garden-weather-service/internal/hub"
	"github.com/kjstillabower/garden-weather-service/internal/lifecycle"
	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/propagation"
	"github.com/kjstillabower/garden-weather-service/internal/scheduler"
	"github.com/kjstillabower/garden-weather-service/internal/service"
	"github.com/kjstillabower/garden-weather-service/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket hub, refresh scheduler and health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := config.Load()
			if err != nil {
				logger.Error("config", zap.Error(err))
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// closers collects resources released after the server drains, in registration order.
type closers []func()

func (c closers) run() {
	for _, fn := range c {
		fn()
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	lifecycle.SetPhase(lifecycle.Starting)
	var cleanup closers
	defer cleanup.run()

	provider := client.NewOpenMeteoClient(client.Options{
		BaseURL:        cfg.WeatherAPIURL,
		Timeout:        cfg.WeatherAPITimeout,
		RateLimitRPS:   cfg.WeatherAPIRateLimitRPS,
		RateLimitBurst: cfg.WeatherAPIRateLimitBurst,
	})
	if cfg.CircuitBreakerEnabled {
		provider.SetCircuitBreaker(client.NewCircuitBreaker(client.BreakerConfig{
			Name:             "weather_api",
			FailureThreshold: uint32(cfg.CircuitBreakerFailureThreshold),
			OpenTimeout:      cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to string) {
				logger.Warn("circuit breaker state change", zap.String("from", from), zap.String("to", to))
				observability.CircuitBreakerState.WithLabelValues("weather_api").Set(observability.CircuitBreakerStateValue(to))
			},
		}))
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}

	cacheSvc, err := buildCache(cfg, logger, healthConfig, &cleanup)
	if err != nil {
		return err
	}
	weatherService := service.NewWeatherService(provider, cacheSvc, cfg.CacheTTL, logger)

	gardens, err := buildStore(ctx, cfg, logger, healthConfig, &cleanup)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	propagator := propagation.New(gardens, weatherService, cfg.PropagationRadiusMeters, logger)
	wsHub := hub.New(gardens, propagator, verifier, hub.Config{
		NearbyMaxDistanceMeters: cfg.HubNearbyMaxDistanceMeters,
		AllowedOrigins:          cfg.HubAllowedOrigins,
		FanOut:                  cfg.HubFanOut,
	}, logger)
	healthConfig.Connections = wsHub.ConnectionCount

	if cfg.CacheWarmOnStart {
		warmCache(ctx, gardens, weatherService, logger)
	}

	refresher := scheduler.New(gardens, propagator, wsHub, scheduler.Config{
		Interval:  cfg.SchedulerInterval,
		Staleness: cfg.SchedulerStaleness,
	}, logger)
	if cfg.SchedulerEnabled {
		if err := refresher.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	var connectLimiter *rate.Limiter
	if cfg.HubConnectRateLimitRPS > 0 {
		connectLimiter = rate.NewLimiter(rate.Limit(cfg.HubConnectRateLimitRPS), cfg.HubConnectRateLimitBurst)
	}
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Handler:        httphandler.NewHandler(healthConfig, logger),
		Hub:            wsHub,
		ConnectLimiter: connectLimiter,
		Logger:         logger,
	})

	// No WriteTimeout: it would apply to hijacked websocket connections.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	lifecycle.MarkReady()

	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server", zap.Error(err))
			return err
		}
	}

	lifecycle.SetShuttingDown(true)
	refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := wsHub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("hub shutdown", zap.Error(err), zap.Int("remaining", wsHub.ConnectionCount()))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
	return nil
}

func buildCache(cfg *config.Config, logger *zap.Logger, health *httphandler.HealthConfig, cleanup *closers) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		health.CachePing = mc.Ping
		*cleanup = append(*cleanup, func() {
			if err := mc.Close(); err != nil {
				logger.Error("memcached close", zap.Error(err))
			}
		})
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, nil
	default:
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
		return cache.NewLRUCache(cfg.CacheMaxEntries), nil
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, health *httphandler.HealthConfig, cleanup *closers) (store.Store, error) {
	switch cfg.StoreBackend {
	case "mysql":
		s, err := store.OpenSQLStore(ctx, cfg.StoreDSN, store.SQLOptions{MaxOpenConns: cfg.StoreMaxOpenConns})
		if err != nil {
			return nil, fmt.Errorf("garden store: %w", err)
		}
		health.StorePing = s.Ping
		*cleanup = append(*cleanup, func() {
			if err := s.Close(); err != nil {
				logger.Error("garden store close", zap.Error(err))
			}
		})
		logger.Info("garden store: mysql")
		return s, nil
	default:
		s := store.NewMemoryStore()
		if cfg.StoreSeedFile != "" {
			if err := s.LoadSeedFile(ctx, cfg.StoreSeedFile); err != nil {
				return nil, fmt.Errorf("garden store: %w", err)
			}
		}
		logger.Info("garden store: memory", zap.String("seed_file", cfg.StoreSeedFile))
		return s, nil
	}
}

// warmCache prefetches readings for every stored garden so the first scheduler tick and the
// first client requests hit the cache.
func warmCache(ctx context.Context, gardens store.Store, fetcher cache.WeatherFetcher, logger *zap.Logger) {
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	all, err := gardens.ListAll(warmCtx)
	if err != nil {
		logger.Warn("cache warming skipped", zap.Error(err))
		return
	}
	coords := make([]models.Coordinate, 0, len(all))
	for _, g := range all {
		coords = append(coords, g.Location)
	}
	if err := cache.NewWarmer(fetcher, logger).Warm(warmCtx, coords); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
}
