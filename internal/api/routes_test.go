package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/location"
	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"github.com/bobby-s-dev/weather-dashboard/internal/services"
	"github.com/bobby-s-dev/weather-dashboard/internal/storage"
	"github.com/bobby-s-dev/weather-dashboard/pkg/client"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type stubRemote struct {
	weatherErr error
}

func (s *stubRemote) GetCurrentWeather(ctx context.Context, coords models.Coordinates) (*models.WeatherReading, error) {
	if s.weatherErr != nil {
		return nil, s.weatherErr
	}
	return &models.WeatherReading{
		Coordinates: coords,
		Name:        "Paris",
		Temperature: 18,
		Pressure:    1008,
		WindDegree:  225,
		Condition:   models.Condition{Main: "Rain", Description: "light rain"},
	}, nil
}

func (s *stubRemote) GetForecast(ctx context.Context, coords models.Coordinates) (*models.ForecastSeries, error) {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	series := &models.ForecastSeries{City: models.PlaceInfo{Name: "Paris"}}
	for i := 0; i < 40; i++ {
		series.Samples = append(series.Samples, models.ForecastSample{
			Timestamp:   start.Add(time.Duration(3*i) * time.Hour).Unix(),
			Temperature: float64(10 + i%8),
		})
	}
	return series, nil
}

func (s *stubRemote) ReverseGeocode(ctx context.Context, coords models.Coordinates) ([]models.PlaceCandidate, error) {
	return []models.PlaceCandidate{{Name: "Paris", Country: "FR", Lat: coords.Lat, Lon: coords.Lon}}, nil
}

func (s *stubRemote) SearchLocations(ctx context.Context, text string) ([]models.PlaceCandidate, error) {
	return []models.PlaceCandidate{{Name: text, Country: "FR"}}, nil
}

func newTestApp(t *testing.T, remote services.RemoteClient) *fiber.App {
	t.Helper()
	logger := zap.NewNop()

	cache := services.NewQueryCache(services.CacheOptions{FetchTimeout: 2 * time.Second}, logger)
	t.Cleanup(cache.Stop)
	weather := services.NewWeatherService(cache, remote, logger)
	history := services.NewHistoryStore(context.Background(), storage.NewMemory(), cache, logger)

	coords := models.Coordinates{Lat: 48.85, Lon: 2.35}
	source := location.NewSource(location.StaticLocator{Coordinates: &coords}, time.Second, logger)
	source.Start()
	source.Wait(context.Background())

	handler := NewHandler(Deps{
		Weather:     weather,
		Dashboard:   services.NewDashboard(source, weather, time.UTC, logger),
		History:     history,
		Location:    source,
		Timezone:    time.UTC,
		RequestWait: 2 * time.Second,
	}, logger)

	app := NewApp(5*time.Second, 5*time.Second)
	SetupRoutes(app, handler, logger)
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("invalid JSON %q: %v", data, err)
		}
	}
	return resp.StatusCode, out
}

func TestCoordinateValidation(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	for _, target := range []string{
		"/api/v1/weather/current",
		"/api/v1/weather/current?lat=48.85",
		"/api/v1/weather/current?lat=abc&lon=2",
		"/api/v1/weather/current?lat=91&lon=2",
		"/api/v1/weather/forecast?lat=10&lon=181",
	} {
		if status, _ := do(t, app, http.MethodGet, target, ""); status != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, status)
		}
	}
}

func TestCurrentWeather(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	status, body := do(t, app, http.MethodGet, "/api/v1/weather/current?lat=48.85&lon=2.35", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["status"] != "fresh" {
		t.Errorf("unexpected status %v", body["status"])
	}
	data, _ := body["data"].(map[string]interface{})
	if data["name"] != "Paris" {
		t.Errorf("unexpected data: %v", data)
	}
}

func TestRemoteErrorStatusIsForwarded(t *testing.T) {
	app := newTestApp(t, &stubRemote{weatherErr: &client.RemoteError{Status: 401, Message: "Invalid API key"}})

	status, body := do(t, app, http.MethodGet, "/api/v1/weather/current?lat=1&lon=2", "")
	if status != http.StatusUnauthorized || body["status"] != "error" {
		t.Fatalf("expected 401 error, got %d: %v", status, body)
	}

	app = newTestApp(t, &stubRemote{weatherErr: &client.RemoteError{Message: "connection refused"}})
	if status, _ := do(t, app, http.MethodGet, "/api/v1/weather/current?lat=1&lon=2", ""); status != http.StatusBadGateway {
		t.Errorf("unreachable remote should map to 502, got %d", status)
	}
}

func TestForecastAggregates(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	status, body := do(t, app, http.MethodGet, "/api/v1/weather/forecast?lat=48.85&lon=2.35", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if near, _ := body["near_term"].([]interface{}); len(near) != 8 {
		t.Errorf("expected 8 near-term samples, got %d", len(near))
	}
	if daily, _ := body["daily"].([]interface{}); len(daily) != 5 {
		t.Errorf("expected 5 daily summaries, got %d", len(daily))
	}
	if outlook, _ := body["outlook"].([]interface{}); len(outlook) != 4 {
		t.Errorf("expected 4 outlook days, got %d", len(outlook))
	}
}

func TestDetails(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	_, body := do(t, app, http.MethodGet, "/api/v1/weather/details?lat=48.85&lon=2.35", "")
	details, _ := body["details"].(map[string]interface{})
	if details["wind_direction"] != "SW (225°)" || details["pressure"] != "1008 hPa" {
		t.Errorf("unexpected details: %v", details)
	}
}

func TestSearchInactiveUnderThreeCharacters(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	status, body := do(t, app, http.MethodGet, "/api/v1/geocode/search?q=Pa", "")
	if status != http.StatusOK || body["status"] != "inactive" {
		t.Errorf("expected inactive, got %d: %v", status, body)
	}

	_, body = do(t, app, http.MethodGet, "/api/v1/geocode/search?q=Paris", "")
	if body["status"] != "fresh" {
		t.Errorf("expected fresh search, got %v", body)
	}
}

func TestDashboardReady(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	status, body := do(t, app, http.MethodGet, "/api/v1/dashboard?wait=true", "")
	if status != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("expected ready dashboard, got %d: %v", status, body)
	}
	place, _ := body["place"].(map[string]interface{})
	if place["name"] != "Paris" {
		t.Errorf("unexpected place: %v", place)
	}
}

func TestHistoryLifecycle(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	if status, _ := do(t, app, http.MethodPost, "/api/v1/history", `{"query":"Paris","lat":100,"lon":2,"name":"Paris"}`); status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid latitude, got %d", status)
	}

	for i := 0; i < 2; i++ {
		status, body := do(t, app, http.MethodPost, "/api/v1/history", `{"query":"Paris","lat":48.85,"lon":2.35,"name":"Paris","country":"FR"}`)
		if status != http.StatusCreated || body["id"] == "" {
			t.Fatalf("expected 201, got %d: %v", status, body)
		}
	}

	_, body := do(t, app, http.MethodGet, "/api/v1/history", "")
	if items, _ := body["items"].([]interface{}); len(items) != 1 {
		t.Errorf("expected deduplicated history, got %v", body["items"])
	}

	if status, _ := do(t, app, http.MethodDelete, "/api/v1/history", ""); status != http.StatusNoContent {
		t.Errorf("expected 204, got %d", status)
	}
	_, body = do(t, app, http.MethodGet, "/api/v1/history", "")
	if items, _ := body["items"].([]interface{}); len(items) != 0 {
		t.Errorf("expected empty history, got %v", body["items"])
	}
}

func TestLocationEndpoints(t *testing.T) {
	app := newTestApp(t, &stubRemote{})

	_, body := do(t, app, http.MethodGet, "/api/v1/location", "")
	if body["state"] != "resolved" {
		t.Errorf("unexpected location: %v", body)
	}
	status, body := do(t, app, http.MethodPost, "/api/v1/location/retry", "")
	if status != http.StatusAccepted || body["accepted"] != true {
		t.Errorf("unexpected retry response %d: %v", status, body)
	}
}

func TestNotFound(t *testing.T) {
	app := newTestApp(t, &stubRemote{})
	if status, _ := do(t, app, http.MethodGet, "/api/v1/nope", ""); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestNewAppEncodesErrorsAsJSON(t *testing.T) {
	app := NewApp(time.Second, time.Second)
	app.Get("/fail", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/fail", nil), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("expected 418, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["error"] != "short and stout" || body["success"] != false {
		t.Errorf("unexpected body: %v", body)
	}
}
