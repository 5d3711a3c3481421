package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/garden-weather-service/internal/observability"
)

// RouterConfig wires the handlers served by NewRouter.
type RouterConfig struct {
	Handler *Handler
	// Hub serves websocket upgrades on /ws.
	Hub http.Handler
	// ConnectLimiter bounds upgrade attempts; nil disables it.
	ConnectLimiter *rate.Limiter
	Logger         *zap.Logger
}

// NewRouter returns the service router: /ws, /health and /metrics behind correlation and
// metrics middleware. Only /ws is rate limited so health probes keep working under load.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	if cfg.Hub != nil {
		router.Handle("/ws", RateLimitMiddleware(cfg.ConnectLimiter)(cfg.Hub)).Methods(http.MethodGet)
	}
	if cfg.Handler != nil {
		router.HandleFunc("/health", cfg.Handler.GetHealth).Methods(http.MethodGet)
	}
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	return router
}
