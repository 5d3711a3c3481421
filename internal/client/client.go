package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/traffic"
	"github.com/kjstillabower/garden-weather-service/internal/validation"
)

// WeatherProvider fetches one normalized reading for a coordinate.
type WeatherProvider interface {
	Fetch(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error)
}

const (
	// DefaultBaseURL is the Open-Meteo forecast endpoint. It needs no API key.
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"
	// DefaultTimeout bounds a single outbound request.
	DefaultTimeout = 5 * time.Second
)

var (
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

// providerErrorMessage is the only text clients ever see for a provider failure.
const providerErrorMessage = "Unable to fetch weather data"

// ProviderError wraps any timeout, transport, status or decode failure. Error() is generic;
// the cause is reachable through errors.Unwrap for logs and metrics.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return providerErrorMessage
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Options configures an OpenMeteoClient. Zero values fall back to defaults; RateLimitRPS <= 0
// disables outbound throttling.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// OpenMeteoClient is the WeatherProvider backed by the Open-Meteo forecast API.
type OpenMeteoClient struct {
	baseURL string
	timeout time.Duration
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

// NewOpenMeteoClient returns a client with the given options.
func NewOpenMeteoClient(opts Options) *OpenMeteoClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	return &OpenMeteoClient{
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json"),
		limiter: limiter,
		now:     time.Now,
	}
}

// SetCircuitBreaker guards outbound calls with cb. Pass nil to disable.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

type openMeteoResponse struct {
	Current struct {
		Temperature *float64 `json:"temperature_2m"`
		CloudCover  *float64 `json:"cloud_cover"`
	} `json:"current"`
	Hourly struct {
		Precipitation []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

// Fetch validates coord, then makes exactly one outbound request bounded by the client timeout.
// Validation failures return a *validation.ValidationError without touching the network.
func (c *OpenMeteoClient) Fetch(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.WeatherReading{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reading, err := c.guardedCall(reqCtx, coord)
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		traffic.RecordError()
		return models.WeatherReading{}, &ProviderError{Err: err}
	}
	traffic.RecordSuccess()
	return reading, nil
}

func (c *OpenMeteoClient) guardedCall(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.WeatherReading{}, fmt.Errorf("%w: outbound limiter: %v", ErrRateLimited, err)
		}
	}
	if c.breaker == nil {
		return c.callAPI(ctx, coord)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, coord)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.WeatherReading{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return models.WeatherReading{}, err
	}
	return result.(models.WeatherReading), nil
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, coord models.Coordinate) (models.WeatherReading, error) {
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":      strconv.FormatFloat(coord.Latitude, 'f', -1, 64),
			"longitude":     strconv.FormatFloat(coord.Longitude, 'f', -1, 64),
			"current":       "temperature_2m,cloud_cover",
			"hourly":        "precipitation",
			"forecast_days": "2",
		}).
		Get(c.baseURL)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return models.WeatherReading{}, fmt.Errorf("request timeout: %w", errors.Join(err, ctx.Err()))
		}
		return models.WeatherReading{}, fmt.Errorf("http request failed: %w", err)
	}

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode())
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp.StatusCode()); err != nil {
		return models.WeatherReading{}, err
	}

	var payload openMeteoResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return models.WeatherReading{}, fmt.Errorf("parse response: %w", err)
	}
	return c.mapResponse(payload)
}

func handleErrorResponse(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	case statusCode < 200 || statusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, statusCode)
	}
	return nil
}

func (c *OpenMeteoClient) mapResponse(payload openMeteoResponse) (models.WeatherReading, error) {
	if payload.Current.Temperature == nil {
		return models.WeatherReading{}, errors.New("parse response: missing current temperature_2m")
	}

	sky := models.SkyUnknown
	if payload.Current.CloudCover != nil {
		sky = SkyConditionFromCloudCover(*payload.Current.CloudCover)
	}

	var precipitation float64
	for _, p := range payload.Hourly.Precipitation {
		if p != nil {
			precipitation += *p
		}
	}

	return models.WeatherReading{
		Temperature:          *payload.Current.Temperature,
		SkyCondition:         sky,
		PrecipitationNext48h: precipitation,
		FetchedAt:            c.now().UTC(),
	}, nil
}

// SkyConditionFromCloudCover buckets a cloud cover percentage.
func SkyConditionFromCloudCover(pct float64) models.SkyCondition {
	switch {
	case pct < 20:
		return models.SkyClear
	case pct < 50:
		return models.SkyPartlyCloudy
	case pct < 80:
		return models.SkyCloudy
	default:
		return models.SkyOvercast
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
