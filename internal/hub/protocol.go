package hub

import (
	"encoding/json"
	"time"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

const (
	// MaxMessageBytes is the largest client message accepted. Larger messages close the
	// connection with 1009.
	MaxMessageBytes = 50 * 1024

	// MaxRequestsPerWindow requests are processed per connection in each RateLimitWindow.
	MaxRequestsPerWindow = 10
	RateLimitWindow      = 60 * time.Second
)

// Request types.
const (
	TypeGetMyGardensWeather = "getMyGardensWeather"
	TypeGetNearbyGardens    = "getNearbyGardens"
	TypeWeatherUpdate       = "weatherUpdate"
)

// Client-facing error messages.
const (
	msgRateLimited        = "Too many requests. Please try again later."
	msgInvalidFormat      = "Invalid message format"
	msgUnknownType        = "Unknown request type"
	msgInternal           = "Internal server error"
	msgWeatherUnavailable = "Unable to fetch weather data"
)

type request struct {
	Type      string   `json:"type"`
	Token     string   `json:"token"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type errorMessage struct {
	Error string `json:"error"`
}

type gardenWeatherMessage struct {
	GardenID string                 `json:"gardenId"`
	Weather  *models.WeatherReading `json:"weather,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type weatherUpdateMessage struct {
	Type     string                `json:"type"`
	GardenID string                `json:"gardenId"`
	Weather  models.WeatherReading `json:"weather"`
}

func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every message type here is plain data; Marshal cannot fail on it.
		b, _ = json.Marshal(errorMessage{Error: msgInternal})
	}
	return b
}
