package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/api"
	"github.com/bobby-s-dev/weather-dashboard/internal/config"
	"github.com/bobby-s-dev/weather-dashboard/internal/location"
	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"github.com/bobby-s-dev/weather-dashboard/internal/scheduler"
	"github.com/bobby-s-dev/weather-dashboard/internal/services"
	"github.com/bobby-s-dev/weather-dashboard/internal/storage"
	"github.com/bobby-s-dev/weather-dashboard/pkg/client"
	"go.uber.org/zap"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	logger.Info("Starting Weather Dashboard Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.WeatherAPI.OpenWeatherAPIKey == "" {
		logger.Warn("OPENWEATHER_API_KEY is not set, remote requests will fail")
	}

	ctx := context.Background()

	kv, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		DatabaseURL: cfg.Storage.DatabaseURL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer kv.Close()

	clientCfg := client.ClientConfig{
		Timeout:        cfg.WeatherAPI.Timeout,
		MaxRetries:     cfg.Retry.MaxRetries,
		RetryDelay:     cfg.Retry.Delay,
		Multiplier:     cfg.Retry.Multiplier,
		Threshold:      cfg.CircuitBreaker.Threshold,
		BreakerTimeout: cfg.CircuitBreaker.Timeout,
	}
	openWeather := client.NewOpenWeatherClient(client.OpenWeatherOptions{
		APIKey:  cfg.WeatherAPI.OpenWeatherAPIKey,
		BaseURL: cfg.WeatherAPI.BaseURL,
		GeoURL:  cfg.WeatherAPI.GeoURL,
		Units:   cfg.WeatherAPI.Units,
	}, clientCfg, logger)

	cache := services.NewQueryCache(services.CacheOptions{
		StaleTime:    cfg.Cache.StaleTime,
		GCTime:       cfg.Cache.GCTime,
		FetchTimeout: cfg.Cache.FetchTimeout,
	}, logger)
	defer cache.Stop()

	weather := services.NewWeatherService(cache, openWeather, logger)
	history := services.NewHistoryStore(ctx, kv, cache, logger)

	source := location.NewSource(newLocator(cfg, clientCfg, logger), cfg.Location.Timeout, logger)
	source.Start()

	dashboard := services.NewDashboard(source, weather, cfg.Display.Timezone, logger)

	jobs, err := scheduler.NewScheduler(cache, dashboard, cfg.Cache.PurgeInterval, cfg.Location.RefreshInterval, logger)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler", zap.Error(err))
	}

	app := api.NewApp(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	handler := api.NewHandler(api.Deps{
		Weather:     weather,
		Dashboard:   dashboard,
		History:     history,
		Location:    source,
		Timezone:    cfg.Display.Timezone,
		RequestWait: cfg.Server.RequestWait,
		Metrics: map[string]func() map[string]interface{}{
			"circuit_breaker": openWeather.Breaker,
			"scheduler":       jobs.GetStatus,
		},
	}, logger)
	api.SetupRoutes(app, handler, logger)

	jobs.Start()

	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("Starting server", zap.String("address", addr))

		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs.Stop()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newLocator(cfg *config.Config, clientCfg client.ClientConfig, logger *zap.Logger) location.Locator {
	if cfg.Location.Provider == "ip" {
		base := client.NewBaseClient("ip-locator", clientCfg, logger)
		return location.NewIPLocator(base, cfg.Location.IPLocatorURL)
	}

	var coords *models.Coordinates
	if cfg.Location.Lat != nil && cfg.Location.Lon != nil {
		coords = &models.Coordinates{Lat: *cfg.Location.Lat, Lon: *cfg.Location.Lon}
	}
	return location.StaticLocator{Coordinates: coords}
}
