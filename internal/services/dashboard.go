package services

import (
	"context"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/location"
	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"go.uber.org/zap"
)

type ViewStatus string

const (
	ViewLoading          ViewStatus = "loading"
	ViewLocationError    ViewStatus = "location_error"
	ViewLocationRequired ViewStatus = "location_required"
	ViewError            ViewStatus = "error"
	ViewReady            ViewStatus = "ready"
)

// CoordinateSource is the part of location.Source the dashboard needs.
type CoordinateSource interface {
	Snapshot() location.Snapshot
	Wait(ctx context.Context) location.Snapshot
	Retry() bool
}

type DashboardView struct {
	Status   ViewStatus             `json:"status"`
	Location location.Snapshot      `json:"location"`
	Place    *models.PlaceCandidate `json:"place,omitempty"`
	Current  *models.WeatherReading `json:"current,omitempty"`
	Details  *models.WeatherDetails `json:"details,omitempty"`
	Trend    []models.TrendPoint    `json:"trend,omitempty"`
	Outlook  []models.DailySummary  `json:"outlook,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Dashboard composes the position with the weather queries for it.
type Dashboard struct {
	source  CoordinateSource
	weather *WeatherService
	loc     *time.Location
	logger  *zap.Logger
}

func NewDashboard(source CoordinateSource, weather *WeatherService, loc *time.Location, logger *zap.Logger) *Dashboard {
	if loc == nil {
		loc = time.UTC
	}
	return &Dashboard{
		source:  source,
		weather: weather,
		loc:     loc,
		logger:  logger,
	}
}

// View evaluates the dashboard state. With wait set it blocks on pending
// work until ctx ends.
func (d *Dashboard) View(ctx context.Context, wait bool) DashboardView {
	var pos location.Snapshot
	if wait {
		pos = d.source.Wait(ctx)
	} else {
		pos = d.source.Snapshot()
	}

	view := DashboardView{Status: ViewLoading, Location: pos}
	switch {
	case pos.Loading:
		return view
	case pos.Err != nil:
		view.Status = ViewLocationError
		view.Error = pos.Err.Message
		return view
	case pos.Coordinates == nil:
		view.Status = ViewLocationRequired
		return view
	}

	weatherQ := d.weather.CurrentWeather(pos.Coordinates)
	forecastQ := d.weather.Forecast(pos.Coordinates)
	placeQ := d.weather.ReverseGeocode(pos.Coordinates)

	var (
		current  Result[*models.WeatherReading]
		forecast Result[*models.ForecastSeries]
		places   Result[[]models.PlaceCandidate]
	)
	if wait {
		// start all three before blocking on any
		weatherQ.Read()
		forecastQ.Read()
		placeQ.Read()
		current = weatherQ.Await(ctx)
		forecast = forecastQ.Await(ctx)
		places = placeQ.Await(ctx)
	} else {
		current = weatherQ.Read()
		forecast = forecastQ.Read()
		places = placeQ.Read()
	}

	if current.Status == StatusError || forecast.Status == StatusError {
		view.Status = ViewError
		if current.Err != nil {
			view.Error = current.Err.Error()
		} else {
			view.Error = forecast.Err.Error()
		}
		return view
	}
	if !current.HasData || !forecast.HasData {
		return view
	}

	view.Status = ViewReady
	view.Current = current.Data
	details := DescribeReading(current.Data, d.loc)
	view.Details = &details
	view.Trend = HourlyTrend(forecast.Data.Samples, NearTermSamples, d.loc)
	view.Outlook = UpcomingDays(GroupByDay(forecast.Data.Samples, d.loc), OutlookDays)
	if places.HasData && len(places.Data) > 0 {
		p := places.Data[0]
		view.Place = &p
	}
	return view
}

// Refresh re-requests the position and reloads the weather for the last
// known coordinates.
func (d *Dashboard) Refresh() {
	pos := d.source.Snapshot()
	d.source.Retry()
	if pos.Coordinates != nil {
		d.weather.RefetchAll(pos.Coordinates)
	}
	d.logger.Info("Dashboard refreshed")
}
