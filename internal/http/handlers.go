package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/garden-weather-service/internal/lifecycle"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/traffic"
)

// HealthConfig holds thresholds and dependency probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// StorePing, when set, checks the garden store. Used when backend is mysql.
	StorePing func(ctx context.Context) error
	// Connections reports open websocket connections.
	Connections func() int
	Version     string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{healthConfig: healthConfig, logger: logger}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   h.version(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig.Connections != nil {
		resp["connections"] = h.healthConfig.Connections()
	}
	writeJSON(w, result.statusCode, resp)
}

func (h *Handler) version() string {
	if h.healthConfig.Version == "" {
		return "dev"
	}
	return h.healthConfig.Version
}

// runChecks probes each configured dependency and reports healthy or unhealthy per name.
func (h *Handler) runChecks(ctx context.Context) map[string]string {
	checks := map[string]string{"weatherApi": "healthy"}
	if h.providerDegraded() {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig.CachePing != nil {
		checks["cache"] = statusOf(h.healthConfig.CachePing())
	}
	if h.healthConfig.StorePing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		checks["store"] = statusOf(h.healthConfig.StorePing(pingCtx))
		cancel()
	}
	return checks
}

func statusOf(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// providerDegraded reports whether the provider error rate in the window breaches the threshold.
func (h *Handler) providerDegraded() bool {
	if h.healthConfig.DegradedWindow <= 0 || h.healthConfig.DegradedErrorPct <= 0 {
		return false
	}
	errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
	if total == 0 {
		return false
	}
	pct := float64(errs) * 100 / float64(total)
	return pct >= float64(h.healthConfig.DegradedErrorPct)
}

// computeHealthStatus determines the current health status by evaluating conditions in
// priority order: shutting-down > starting > store unreachable > degraded > healthy.
// A failing cache is reported in checks but does not fail health: the service still answers
// from the provider.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	switch lifecycle.Current() {
	case lifecycle.ShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.Starting:
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if checks["store"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable"}
	}
	if checks["weatherApi"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
