package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server struct {
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		LogLevel     string
		RequestWait  time.Duration
	}

	WeatherAPI struct {
		OpenWeatherAPIKey string
		BaseURL           string
		GeoURL            string
		Units             string
		Timeout           time.Duration
	}

	Cache struct {
		StaleTime     time.Duration
		GCTime        time.Duration
		PurgeInterval time.Duration
		FetchTimeout  time.Duration
	}

	CircuitBreaker struct {
		Threshold int
		Timeout   time.Duration
	}

	Retry struct {
		MaxRetries int
		Delay      time.Duration
		Multiplier float64
	}

	Location struct {
		Provider        string
		Lat             *float64
		Lon             *float64
		Timeout         time.Duration
		RefreshInterval time.Duration
		IPLocatorURL    string
	}

	Storage struct {
		Driver      string
		SQLitePath  string
		DatabaseURL string
	}

	Display struct {
		Timezone *time.Location
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}

	// Server configuration
	cfg.Server.Port = getEnv("FIBER_PORT", "8080")
	cfg.Server.ReadTimeout = parseDuration(getEnv("FIBER_READ_TIMEOUT", "10s"))
	cfg.Server.WriteTimeout = parseDuration(getEnv("FIBER_WRITE_TIMEOUT", "20s"))
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.Server.RequestWait = parseDuration(getEnv("REQUEST_WAIT", "8s"))

	// Weather API configuration
	cfg.WeatherAPI.OpenWeatherAPIKey = getEnv("OPENWEATHER_API_KEY", "")
	cfg.WeatherAPI.BaseURL = getEnv("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5")
	cfg.WeatherAPI.GeoURL = getEnv("OPENWEATHER_GEO_URL", "https://api.openweathermap.org/geo/1.0")
	cfg.WeatherAPI.Units = getEnv("OPENWEATHER_UNITS", "metric")
	cfg.WeatherAPI.Timeout = parseDuration(getEnv("HTTP_TIMEOUT", "10s"))

	// Cache configuration
	cfg.Cache.StaleTime = parseDuration(getEnv("CACHE_STALE_TIME", "5m"))
	cfg.Cache.GCTime = parseDuration(getEnv("CACHE_GC_TIME", "10m"))
	cfg.Cache.PurgeInterval = parseDuration(getEnv("CACHE_PURGE_INTERVAL", "1m"))
	cfg.Cache.FetchTimeout = parseDuration(getEnv("FETCH_TIMEOUT", "15s"))

	// Circuit breaker configuration
	cfg.CircuitBreaker.Threshold = parseInt(getEnv("CIRCUIT_BREAKER_THRESHOLD", "3"))
	cfg.CircuitBreaker.Timeout = parseDuration(getEnv("CIRCUIT_BREAKER_TIMEOUT", "30s"))

	// Failed fetches surface immediately unless retries are asked for
	cfg.Retry.MaxRetries = parseInt(getEnv("MAX_RETRIES", "0"))
	cfg.Retry.Delay = parseDuration(getEnv("RETRY_DELAY", "1s"))
	cfg.Retry.Multiplier = parseFloat(getEnv("RETRY_MULTIPLIER", "2"))

	// Location configuration
	cfg.Location.Provider = getEnv("LOCATION_PROVIDER", "static")
	cfg.Location.Lat = parseOptionalFloat(os.Getenv("LOCATION_LAT"))
	cfg.Location.Lon = parseOptionalFloat(os.Getenv("LOCATION_LON"))
	cfg.Location.Timeout = parseDuration(getEnv("LOCATION_TIMEOUT", "10s"))
	cfg.Location.RefreshInterval = parseDuration(getEnv("LOCATION_REFRESH_INTERVAL", "0s"))
	cfg.Location.IPLocatorURL = getEnv("IP_LOCATOR_URL", "")

	// Storage configuration
	cfg.Storage.DatabaseURL = getEnv("DATABASE_URL", "")
	defaultDriver := "sqlite"
	if cfg.Storage.DatabaseURL != "" {
		defaultDriver = "postgres"
	}
	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", defaultDriver)
	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", "weather.db")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Display.Timezone = loc

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("STORAGE_DRIVER=postgres requires DATABASE_URL")
	}

	switch c.Location.Provider {
	case "static", "ip":
	default:
		return fmt.Errorf("unknown LOCATION_PROVIDER %q", c.Location.Provider)
	}
	if (c.Location.Lat == nil) != (c.Location.Lon == nil) {
		return fmt.Errorf("LOCATION_LAT and LOCATION_LON must be set together")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		zap.L().Warn("Failed to parse duration", zap.String("value", value), zap.Error(err))
		return 0
	}
	return duration
}

func parseInt(value string) int {
	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse int", zap.String("value", value), zap.Error(err))
		return 0
	}
	return intValue
}

func parseFloat(value string) float64 {
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Failed to parse float", zap.String("value", value), zap.Error(err))
		return 0
	}
	return floatValue
}

func parseOptionalFloat(value string) *float64 {
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Failed to parse float", zap.String("value", value), zap.Error(err))
		return nil
	}
	return &f
}
