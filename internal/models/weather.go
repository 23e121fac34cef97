package models

import (
	"strconv"
)

// Coordinates is a latitude/longitude pair. Two pairs are the same place only
// when both components are exactly equal.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key renders the pair deterministically for use in cache keys. Equal pairs
// always share a key, so -0 is written as 0.
func (c Coordinates) Key() string {
	return formatCoord(c.Lat) + "," + formatCoord(c.Lon)
}

func formatCoord(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type WeatherReading struct {
	Coordinates Coordinates `json:"coord"`
	Name        string      `json:"name"`
	Country     string      `json:"country"`
	Temperature float64     `json:"temperature"`
	FeelsLike   float64     `json:"feels_like"`
	TempMin     float64     `json:"temp_min"`
	TempMax     float64     `json:"temp_max"`
	Humidity    float64     `json:"humidity"`
	Pressure    float64     `json:"pressure"`
	WindSpeed   float64     `json:"wind_speed"`
	WindDegree  float64     `json:"wind_degree"`
	Condition   Condition   `json:"condition"`
	Sunrise     int64       `json:"sunrise"`
	Sunset      int64       `json:"sunset"`
	Timestamp   int64       `json:"dt"`
	Timezone    int         `json:"timezone"`
}

type ForecastSample struct {
	Timestamp     int64     `json:"dt"`
	Temperature   float64   `json:"temperature"`
	FeelsLike     float64   `json:"feels_like"`
	TempMin       float64   `json:"temp_min"`
	TempMax       float64   `json:"temp_max"`
	Humidity      float64   `json:"humidity"`
	Pressure      float64   `json:"pressure"`
	WindSpeed     float64   `json:"wind_speed"`
	WindDegree    float64   `json:"wind_degree"`
	Precipitation float64   `json:"pop"`
	Condition     Condition `json:"condition"`
	Text          string    `json:"dt_txt"`
}

type PlaceInfo struct {
	Name        string      `json:"name"`
	Country     string      `json:"country"`
	Coordinates Coordinates `json:"coord"`
	Timezone    int         `json:"timezone"`
	Sunrise     int64       `json:"sunrise"`
	Sunset      int64       `json:"sunset"`
}

// ForecastSeries holds 3-hour samples in ascending time order.
type ForecastSeries struct {
	City    PlaceInfo        `json:"city"`
	Samples []ForecastSample `json:"list"`
}

// DailySummary is derived from a ForecastSeries and never fetched.
type DailySummary struct {
	Date            string    `json:"date"`
	TempMin         float64   `json:"temp_min"`
	TempMax         float64   `json:"temp_max"`
	Humidity        float64   `json:"humidity"`
	WindSpeed       float64   `json:"wind_speed"`
	Condition       Condition `json:"condition"`
	AnchorTimestamp int64     `json:"anchor"`
}

type PlaceCandidate struct {
	Name       string            `json:"name"`
	LocalNames map[string]string `json:"local_names,omitempty"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	Country    string            `json:"country"`
	State      string            `json:"state,omitempty"`
}

type SearchHistoryItem struct {
	ID         string  `json:"id"`
	Query      string  `json:"query"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Name       string  `json:"name"`
	Country    string  `json:"country"`
	State      string  `json:"state,omitempty"`
	SearchedAt int64   `json:"searchedAt"`
}

// HistoryCandidate is what callers supply to add a history entry.
type HistoryCandidate struct {
	Query   string  `json:"query" validate:"required"`
	Lat     float64 `json:"lat" validate:"latitude"`
	Lon     float64 `json:"lon" validate:"longitude"`
	Name    string  `json:"name" validate:"required"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
}

type WeatherDetails struct {
	Sunrise       string `json:"sunrise"`
	Sunset        string `json:"sunset"`
	WindDirection string `json:"wind_direction"`
	Pressure      string `json:"pressure"`
	Humidity      string `json:"humidity"`
	Condition     string `json:"condition"`
}

type TrendPoint struct {
	Timestamp int64  `json:"dt"`
	Label     string `json:"time"`
	Temp      int    `json:"temp"`
	FeelsLike int    `json:"feels_like"`
}
