package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetrics_Usable verifies that label dimensions match usage across client, cache, hub and scheduler.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPIDuration.WithLabelValues("success").Observe(0.1)
	WeatherAPIErrorsTotal.WithLabelValues("timeout").Inc()
	CacheHitsTotal.WithLabelValues("weather").Inc()
	CacheMissesTotal.WithLabelValues("weather").Inc()
	CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	CircuitBreakerState.WithLabelValues("weather_api").Set(0)
	HubMessagesTotal.WithLabelValues("getNearbyGardens", "ok").Inc()
	SchedulerRefreshesTotal.WithLabelValues("success").Inc()
}

func TestCircuitBreakerStateValue(t *testing.T) {
	tests := map[string]float64{
		"closed":    0,
		"half-open": 1,
		"open":      2,
		"bogus":     0,
	}
	for in, want := range tests {
		if got := CircuitBreakerStateValue(in); got != want {
			t.Errorf("CircuitBreakerStateValue(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RegisterTrafficGauges(time.Minute)
	HTTPRequestsTotal.WithLabelValues("GET", "/metrics", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "providerErrorsInWindow", "hubRateLimitRejectsInWindow"} {
		if !strings.Contains(body, name) {
			t.Errorf("MetricsHandler response missing %s", name)
		}
	}
}
