package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/location"
	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"github.com/bobby-s-dev/weather-dashboard/internal/services"
	"github.com/bobby-s-dev/weather-dashboard/pkg/client"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var validate = validator.New()

// LocationSource is what the handlers need from the coordinate source.
type LocationSource interface {
	Snapshot() location.Snapshot
	Retry() bool
}

type Deps struct {
	Weather     *services.WeatherService
	Dashboard   *services.Dashboard
	History     *services.HistoryStore
	Location    LocationSource
	Timezone    *time.Location
	RequestWait time.Duration
	// Metrics are extra named stat sources reported by /metrics.
	Metrics map[string]func() map[string]interface{}
}

type Handler struct {
	weather     *services.WeatherService
	dashboard   *services.Dashboard
	history     *services.HistoryStore
	location    LocationSource
	timezone    *time.Location
	requestWait time.Duration
	metrics     map[string]func() map[string]interface{}
	logger      *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.Timezone == nil {
		deps.Timezone = time.UTC
	}
	if deps.RequestWait <= 0 {
		deps.RequestWait = 8 * time.Second
	}
	return &Handler{
		weather:     deps.Weather,
		dashboard:   deps.Dashboard,
		history:     deps.History,
		location:    deps.Location,
		timezone:    deps.Timezone,
		requestWait: deps.RequestWait,
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

type coordQuery struct {
	Lat *float64 `validate:"required,latitude"`
	Lon *float64 `validate:"required,longitude"`
}

func parseCoords(c *fiber.Ctx) (*models.Coordinates, error) {
	var q coordQuery
	for name, dst := range map[string]**float64{"lat": &q.Lat, "lon": &q.Lon} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, name+" must be a number")
		}
		*dst = &v
	}
	if err := validate.Struct(q); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return &models.Coordinates{Lat: *q.Lat, Lon: *q.Lon}, nil
}

func (h *Handler) waitCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.requestWait)
}

// respond maps a query result onto an HTTP reply.
func respond[T any](c *fiber.Ctx, r services.Result[T]) error {
	switch r.Status {
	case services.StatusInactive:
		return c.JSON(fiber.Map{"status": r.Status, "key": r.Key})
	case services.StatusError:
		return c.Status(errorStatus(r.Err)).JSON(fiber.Map{
			"status": r.Status,
			"key":    r.Key,
			"error":  r.Err.Error(),
		})
	case services.StatusPending:
		return c.Status(fiber.StatusAccepted).JSON(r)
	default:
		return c.JSON(r)
	}
}

func errorStatus(err error) int {
	var re *client.RemoteError
	if errors.As(err, &re) && re.Status >= 400 && re.Status < 600 {
		return re.Status
	}
	return fiber.StatusBadGateway
}

// GetCurrentWeather handles GET /api/v1/weather/current
func (h *Handler) GetCurrentWeather(c *fiber.Ctx) error {
	coords, err := parseCoords(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.waitCtx(c)
	defer cancel()

	return respond(c, h.weather.CurrentWeather(coords).Await(ctx))
}

// GetForecast handles GET /api/v1/weather/forecast
func (h *Handler) GetForecast(c *fiber.Ctx) error {
	coords, err := parseCoords(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.waitCtx(c)
	defer cancel()

	r := h.weather.Forecast(coords).Await(ctx)
	if !r.HasData || r.Status == services.StatusError {
		return respond(c, r)
	}

	samples := r.Data.Samples
	days := services.GroupByDay(samples, h.timezone)
	return c.JSON(fiber.Map{
		"status":      r.Status,
		"is_fetching": r.IsFetching,
		"fetched_at":  r.FetchedAt,
		"city":        r.Data.City,
		"near_term":   services.TruncateNearTerm(samples, services.NearTermSamples),
		"trend":       services.HourlyTrend(samples, services.NearTermSamples, h.timezone),
		"daily":       days,
		"outlook":     services.UpcomingDays(days, services.OutlookDays),
	})
}

// GetDetails handles GET /api/v1/weather/details
func (h *Handler) GetDetails(c *fiber.Ctx) error {
	coords, err := parseCoords(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.waitCtx(c)
	defer cancel()

	r := h.weather.CurrentWeather(coords).Await(ctx)
	if !r.HasData || r.Status == services.StatusError {
		return respond(c, r)
	}
	return c.JSON(fiber.Map{
		"status":  r.Status,
		"details": services.DescribeReading(r.Data, h.timezone),
	})
}

// RefetchWeather handles POST /api/v1/weather/refetch
func (h *Handler) RefetchWeather(c *fiber.Ctx) error {
	coords, err := parseCoords(c)
	if err != nil {
		return err
	}
	h.weather.RefetchAll(coords)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"refetching": true, "coord": coords})
}

// ReverseGeocode handles GET /api/v1/geocode/reverse
func (h *Handler) ReverseGeocode(c *fiber.Ctx) error {
	coords, err := parseCoords(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.waitCtx(c)
	defer cancel()

	return respond(c, h.weather.ReverseGeocode(coords).Await(ctx))
}

// SearchLocations handles GET /api/v1/geocode/search
func (h *Handler) SearchLocations(c *fiber.Ctx) error {
	ctx, cancel := h.waitCtx(c)
	defer cancel()

	return respond(c, h.weather.SearchLocations(c.Query("q")).Await(ctx))
}

// GetLocation handles GET /api/v1/location
func (h *Handler) GetLocation(c *fiber.Ctx) error {
	return c.JSON(h.location.Snapshot())
}

// RetryLocation handles POST /api/v1/location/retry
func (h *Handler) RetryLocation(c *fiber.Ctx) error {
	accepted := h.location.Retry()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": accepted,
		"location": h.location.Snapshot(),
	})
}

// GetDashboard handles GET /api/v1/dashboard
func (h *Handler) GetDashboard(c *fiber.Ctx) error {
	wait := c.QueryBool("wait", false)
	ctx, cancel := h.waitCtx(c)
	defer cancel()

	return c.JSON(h.dashboard.View(ctx, wait))
}

// RefreshDashboard handles POST /api/v1/dashboard/refresh
func (h *Handler) RefreshDashboard(c *fiber.Ctx) error {
	h.dashboard.Refresh()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"refreshing": true})
}

// GetHistory handles GET /api/v1/history
func (h *Handler) GetHistory(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"items": h.history.List()})
}

// AddHistory handles POST /api/v1/history
func (h *Handler) AddHistory(c *fiber.Ctx) error {
	var candidate models.HistoryCandidate
	if err := c.BodyParser(&candidate); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(candidate); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	item := h.history.Add(c.UserContext(), candidate)
	return c.Status(fiber.StatusCreated).JSON(item)
}

// ClearHistory handles DELETE /api/v1/history
func (h *Handler) ClearHistory(c *fiber.Ctx) error {
	h.history.Clear(c.UserContext())
	return c.SendStatus(fiber.StatusNoContent)
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
		"location":  h.location.Snapshot().State,
		"cache":     h.weather.Cache().Stats(),
	})
}

// GetMetrics handles GET /api/v1/metrics
func (h *Handler) GetMetrics(c *fiber.Ctx) error {
	metrics := fiber.Map{"cache": h.weather.Cache().Stats()}
	for name, fn := range h.metrics {
		metrics[name] = fn()
	}

	return c.JSON(fiber.Map{
		"metrics":   metrics,
		"timestamp": time.Now(),
	})
}

var startTime = time.Now()
