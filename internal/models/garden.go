package models

// Garden is the externally owned record the propagator writes weather onto.
type Garden struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Location Coordinate      `json:"location" yaml:"location"`
	OwnerID  string          `json:"ownerId" yaml:"owner_id"`
	Weather  *WeatherReading `json:"weather" yaml:"-"`
}

// GardenWeather pairs a garden with the reading applied to it.
type GardenWeather struct {
	GardenID string
	Reading  WeatherReading
}
