package client

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker parameters for the provider.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	// OnStateChange, when set, receives state names ("closed", "half-open", "open").
	OnStateChange func(from, to string)
}

// NewCircuitBreaker opens after FailureThreshold consecutive failures and probes again once
// OpenTimeout has elapsed.
func NewCircuitBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from.String(), to.String())
		}
	}
	return gobreaker.NewCircuitBreaker(settings)
}
