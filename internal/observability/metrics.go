package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/garden-weather-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Websocket sessions are excluded (route label "/ws" only counts upgrades).
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Forecast provider call rate by outcome. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Provider latency. Watch for: p99 approaching the 5s timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Provider failures by stable category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Reading cache lookups. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Entries dropped by the cache; reason is "capacity" or "expired".
	CacheEvictionsTotal *prometheus.CounterVec

	// Cache backend errors by operation (get, set, delete).
	CacheErrorsTotal *prometheus.CounterVec

	// Circuit breaker state: 0=closed, 1=half_open, 2=open.
	CircuitBreakerState *prometheus.GaugeVec

	// Open websocket connections.
	HubConnections prometheus.Gauge

	// Hub messages by request type and outcome (ok, error, rate_limited, unauthorized, invalid).
	HubMessagesTotal *prometheus.CounterVec

	// weatherUpdate pushes sent and dropped because a client's send buffer was full.
	HubBroadcastsTotal        prometheus.Counter
	HubBroadcastsDroppedTotal prometheus.Counter

	// Connections closed for exceeding the message size limit.
	HubOversizedMessagesTotal prometheus.Counter

	// Scheduler ticks and per-garden refresh outcomes.
	SchedulerTicksTotal      prometheus.Counter
	SchedulerRefreshesTotal  *prometheus.CounterVec
	SchedulerTickDuration    prometheus.Histogram
	PropagationUpdatesTotal  prometheus.Counter

	// Connection attempts denied by the upgrade rate limiter (429).
	RateLimitDeniedTotal prometheus.Counter

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of forecast provider calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Forecast provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Forecast provider failures by category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of reading cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of reading cache misses (absent or expired)",
		},
		[]string{"cacheType"},
	)
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries removed from the in-memory cache",
		},
		[]string{"reason"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"component"},
	)
	HubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubConnections",
			Help: "Currently open websocket connections",
		},
	)
	HubMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubMessagesTotal",
			Help: "Client messages handled by the notification hub",
		},
		[]string{"type", "outcome"},
	)
	HubBroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hubBroadcastsTotal",
			Help: "weatherUpdate events queued to clients",
		},
	)
	HubBroadcastsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hubBroadcastsDroppedTotal",
			Help: "weatherUpdate events dropped because the client send buffer was full",
		},
	)
	HubOversizedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hubOversizedMessagesTotal",
			Help: "Connections closed with 1009 for exceeding the message size limit",
		},
	)
	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulerTicksTotal",
			Help: "Refresh scheduler ticks",
		},
	)
	SchedulerRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedulerRefreshesTotal",
			Help: "Per-garden refresh attempts by outcome",
		},
		[]string{"outcome"},
	)
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schedulerTickDurationSeconds",
			Help:    "Wall time of one refresh tick",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30},
		},
	)
	PropagationUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "propagationUpdatesTotal",
			Help: "Garden weather writes made by propagation (origin and neighbors)",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of connection attempts denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheEvictionsTotal, CacheErrorsTotal,
		CircuitBreakerState,
		HubConnections, HubMessagesTotal, HubBroadcastsTotal, HubBroadcastsDroppedTotal, HubOversizedMessagesTotal,
		SchedulerTicksTotal, SchedulerRefreshesTotal, SchedulerTickDuration, PropagationUpdatesTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterTrafficGauges registers provider error and hub denial gauges over the given window.
// Call from main after config load with the health window.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "providerErrorsInWindow",
					Help: "Provider failures in the sliding health window",
				},
				func() float64 {
					errs, _ := traffic.ErrorRate(window)
					return float64(errs)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "hubRateLimitRejectsInWindow",
					Help: "Hub messages rejected by per-connection limits in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open", "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
