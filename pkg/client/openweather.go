package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
	DefaultGeoURL  = "https://api.openweathermap.org/geo/1.0"

	// MinQueryLength is the shortest text SearchLocations will send.
	MinQueryLength = 3

	reverseLimit = 1
	searchLimit  = 5
)

type OpenWeatherClient struct {
	*BaseClient
	apiKey  string
	baseURL string
	geoURL  string
	units   string
}

type OpenWeatherOptions struct {
	APIKey  string
	BaseURL string
	GeoURL  string
	Units   string
}

type owCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

type owWind struct {
	Speed float64 `json:"speed"`
	Deg   float64 `json:"deg"`
}

type OpenWeatherCurrentResponse struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Weather []owCondition `json:"weather"`
	Main    owMain        `json:"main"`
	Wind    owWind        `json:"wind"`
	Dt      int64         `json:"dt"`
	Sys     struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

type OpenWeatherForecastItem struct {
	Dt      int64         `json:"dt"`
	Main    owMain        `json:"main"`
	Weather []owCondition `json:"weather"`
	Wind    owWind        `json:"wind"`
	Pop     float64       `json:"pop"`
	DtTxt   string        `json:"dt_txt"`
}

type OpenWeatherForecastResponse struct {
	Cnt  int                       `json:"cnt"`
	List []OpenWeatherForecastItem `json:"list"`
	City struct {
		Name  string `json:"name"`
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"`
		Sunrise  int64  `json:"sunrise"`
		Sunset   int64  `json:"sunset"`
	} `json:"city"`
}

type openWeatherErrorBody struct {
	Message string `json:"message"`
}

func NewOpenWeatherClient(opts OpenWeatherOptions, config ClientConfig, logger *zap.Logger) *OpenWeatherClient {
	return newOpenWeatherClient(NewBaseClient("openweather", config, logger), opts)
}

func NewOpenWeatherClientWithBase(base *BaseClient, opts OpenWeatherOptions) *OpenWeatherClient {
	return newOpenWeatherClient(base, opts)
}

func newOpenWeatherClient(base *BaseClient, opts OpenWeatherOptions) *OpenWeatherClient {
	c := &OpenWeatherClient{
		BaseClient: base,
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		geoURL:     opts.GeoURL,
		units:      opts.Units,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.geoURL == "" {
		c.geoURL = DefaultGeoURL
	}
	if c.units == "" {
		c.units = "metric"
	}
	return c
}

func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, coords models.Coordinates) (*models.WeatherReading, error) {
	var response OpenWeatherCurrentResponse
	if err := c.get(ctx, c.baseURL+"/weather", coordParams(coords), &response); err != nil {
		return nil, fmt.Errorf("failed to fetch current weather: %w", err)
	}

	reading := &models.WeatherReading{
		Coordinates: models.Coordinates{Lat: response.Coord.Lat, Lon: response.Coord.Lon},
		Name:        response.Name,
		Country:     response.Sys.Country,
		Temperature: response.Main.Temp,
		FeelsLike:   response.Main.FeelsLike,
		TempMin:     response.Main.TempMin,
		TempMax:     response.Main.TempMax,
		Humidity:    response.Main.Humidity,
		Pressure:    response.Main.Pressure,
		WindSpeed:   response.Wind.Speed,
		WindDegree:  response.Wind.Deg,
		Condition:   firstCondition(response.Weather),
		Sunrise:     response.Sys.Sunrise,
		Sunset:      response.Sys.Sunset,
		Timestamp:   response.Dt,
		Timezone:    response.Timezone,
	}

	return reading, nil
}

func (c *OpenWeatherClient) GetForecast(ctx context.Context, coords models.Coordinates) (*models.ForecastSeries, error) {
	var response OpenWeatherForecastResponse
	if err := c.get(ctx, c.baseURL+"/forecast", coordParams(coords), &response); err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}

	series := &models.ForecastSeries{
		City: models.PlaceInfo{
			Name:        response.City.Name,
			Country:     response.City.Country,
			Coordinates: models.Coordinates{Lat: response.City.Coord.Lat, Lon: response.City.Coord.Lon},
			Timezone:    response.City.Timezone,
			Sunrise:     response.City.Sunrise,
			Sunset:      response.City.Sunset,
		},
		Samples: make([]models.ForecastSample, 0, len(response.List)),
	}

	for _, item := range response.List {
		series.Samples = append(series.Samples, models.ForecastSample{
			Timestamp:     item.Dt,
			Temperature:   item.Main.Temp,
			FeelsLike:     item.Main.FeelsLike,
			TempMin:       item.Main.TempMin,
			TempMax:       item.Main.TempMax,
			Humidity:      item.Main.Humidity,
			Pressure:      item.Main.Pressure,
			WindSpeed:     item.Wind.Speed,
			WindDegree:    item.Wind.Deg,
			Precipitation: item.Pop,
			Condition:     firstCondition(item.Weather),
			Text:          item.DtTxt,
		})
	}

	return series, nil
}

// ReverseGeocode returns at most one place for the coordinates. An empty
// slice is a valid answer.
func (c *OpenWeatherClient) ReverseGeocode(ctx context.Context, coords models.Coordinates) ([]models.PlaceCandidate, error) {
	params := coordParams(coords)
	params.Set("limit", strconv.Itoa(reverseLimit))

	places := []models.PlaceCandidate{}
	if err := c.get(ctx, c.geoURL+"/reverse", params, &places); err != nil {
		return nil, fmt.Errorf("failed to reverse geocode: %w", err)
	}
	return places, nil
}

// SearchLocations returns up to five places matching text.
func (c *OpenWeatherClient) SearchLocations(ctx context.Context, text string) ([]models.PlaceCandidate, error) {
	if utf8.RuneCountInString(text) < MinQueryLength {
		return nil, ErrQueryTooShort
	}

	params := url.Values{}
	params.Set("q", text)
	params.Set("limit", strconv.Itoa(searchLimit))

	places := []models.PlaceCandidate{}
	if err := c.get(ctx, c.geoURL+"/direct", params, &places); err != nil {
		return nil, fmt.Errorf("failed to search locations: %w", err)
	}
	return places, nil
}

func (c *OpenWeatherClient) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	params.Set("units", c.units)
	params.Set("appid", c.apiKey)

	data, err := c.GetWithRetry(ctx, endpoint+"?"+params.Encode())
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.Status != 0 {
			var body openWeatherErrorBody
			if json.Unmarshal([]byte(re.Message), &body) == nil && body.Message != "" {
				re.Message = body.Message
			}
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &RemoteError{Status: 502, Message: "failed to parse response", Err: err}
	}
	return nil
}

func coordParams(coords models.Coordinates) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	return params
}

func firstCondition(conditions []owCondition) models.Condition {
	if len(conditions) == 0 {
		return models.Condition{}
	}
	w := conditions[0]
	return models.Condition{ID: w.ID, Main: w.Main, Description: w.Description, Icon: w.Icon}
}
