package models

import (
	"strconv"
	"time"
)

// SkyCondition is the normalized cloud state derived from cloud cover percentage.
type SkyCondition string

const (
	SkyClear        SkyCondition = "Clear"
	SkyPartlyCloudy SkyCondition = "PartlyCloudy"
	SkyCloudy       SkyCondition = "Cloudy"
	SkyOvercast     SkyCondition = "Overcast"
	SkyUnknown      SkyCondition = "Unknown"
)

// Coordinate is a WGS84 point. Longitude comes first to match the [lon, lat] order stored
// with gardens.
type Coordinate struct {
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
}

// Key returns the cache key for the coordinate: "lat,lon" at full precision.
func (c Coordinate) Key() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// WeatherReading is a single normalized observation. It holds no references, so every
// assignment is a copy and cached readings cannot be mutated through a returned value.
type WeatherReading struct {
	Temperature          float64      `json:"temperature"`
	SkyCondition         SkyCondition `json:"skyCondition"`
	PrecipitationNext48h float64      `json:"precipitationNext48h"`
	FetchedAt            time.Time    `json:"fetchedAt"`
}
