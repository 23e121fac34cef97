package services

import (
	"context"
	"unicode/utf8"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"github.com/bobby-s-dev/weather-dashboard/pkg/client"
	"go.uber.org/zap"
)

// RemoteClient is the weather service the queries fetch from.
type RemoteClient interface {
	GetCurrentWeather(ctx context.Context, coords models.Coordinates) (*models.WeatherReading, error)
	GetForecast(ctx context.Context, coords models.Coordinates) (*models.ForecastSeries, error)
	ReverseGeocode(ctx context.Context, coords models.Coordinates) ([]models.PlaceCandidate, error)
	SearchLocations(ctx context.Context, text string) ([]models.PlaceCandidate, error)
}

const (
	kindWeather        = "weather"
	kindForecast       = "forecast"
	kindLocation       = "location"
	kindLocationSearch = "location-search"
)

// WeatherService exposes the remote reads as cached queries keyed by their
// parameters.
type WeatherService struct {
	cache  *QueryCache
	remote RemoteClient
	logger *zap.Logger
}

func NewWeatherService(cache *QueryCache, remote RemoteClient, logger *zap.Logger) *WeatherService {
	return &WeatherService{
		cache:  cache,
		remote: remote,
		logger: logger,
	}
}

func (s *WeatherService) Cache() *QueryCache {
	return s.cache
}

func (s *WeatherService) CurrentWeather(coords *models.Coordinates) Query[*models.WeatherReading] {
	if coords == nil {
		return NewQuery[*models.WeatherReading](s.cache, kindWeather, false, nil)
	}
	c := *coords
	return NewQuery(s.cache, coordKey(kindWeather, c), true, func(ctx context.Context) (*models.WeatherReading, error) {
		return s.remote.GetCurrentWeather(ctx, c)
	})
}

func (s *WeatherService) Forecast(coords *models.Coordinates) Query[*models.ForecastSeries] {
	if coords == nil {
		return NewQuery[*models.ForecastSeries](s.cache, kindForecast, false, nil)
	}
	c := *coords
	return NewQuery(s.cache, coordKey(kindForecast, c), true, func(ctx context.Context) (*models.ForecastSeries, error) {
		return s.remote.GetForecast(ctx, c)
	})
}

func (s *WeatherService) ReverseGeocode(coords *models.Coordinates) Query[[]models.PlaceCandidate] {
	if coords == nil {
		return NewQuery[[]models.PlaceCandidate](s.cache, kindLocation, false, nil)
	}
	c := *coords
	return NewQuery(s.cache, coordKey(kindLocation, c), true, func(ctx context.Context) ([]models.PlaceCandidate, error) {
		return s.remote.ReverseGeocode(ctx, c)
	})
}

// SearchLocations is inactive until text has at least three characters.
func (s *WeatherService) SearchLocations(text string) Query[[]models.PlaceCandidate] {
	key := kindLocationSearch + "|" + text
	enabled := utf8.RuneCountInString(text) >= client.MinQueryLength
	return NewQuery(s.cache, key, enabled, func(ctx context.Context) ([]models.PlaceCandidate, error) {
		return s.remote.SearchLocations(ctx, text)
	})
}

// RefetchAll forces the three coordinate queries to reload.
func (s *WeatherService) RefetchAll(coords *models.Coordinates) {
	if coords == nil {
		return
	}
	s.logger.Info("Refetching weather queries", zap.String("coords", coords.Key()))
	s.CurrentWeather(coords).Refetch()
	s.Forecast(coords).Refetch()
	s.ReverseGeocode(coords).Refetch()
}

func coordKey(kind string, c models.Coordinates) string {
	return kind + "|" + c.Key()
}
