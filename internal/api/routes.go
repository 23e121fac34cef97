package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// NewApp builds the fiber app the routes are mounted on. Fiber's default
// encoding/json codec serialises responses.
func NewApp(readTimeout, writeTimeout time.Duration) *fiber.App {
	return fiber.New(fiber.Config{
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		ErrorHandler: ErrorHandler,
	})
}

func SetupRoutes(app *fiber.App, handler *Handler, log *zap.Logger) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,DELETE",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} ${pid} ${locals:requestid} ${status} - ${method} ${path}\n",
		TimeFormat: time.RFC3339,
	}))

	api := app.Group("/api/v1")

	api.Get("/health", handler.GetHealth)
	api.Get("/metrics", handler.GetMetrics)

	api.Get("/location", handler.GetLocation)
	api.Post("/location/retry", handler.RetryLocation)

	api.Get("/dashboard", handler.GetDashboard)
	api.Post("/dashboard/refresh", handler.RefreshDashboard)

	weather := api.Group("/weather")
	weather.Get("/current", handler.GetCurrentWeather)
	weather.Get("/forecast", handler.GetForecast)
	weather.Get("/details", handler.GetDetails)
	weather.Post("/refetch", handler.RefetchWeather)

	geocode := api.Group("/geocode")
	geocode.Get("/reverse", handler.ReverseGeocode)
	geocode.Get("/search", handler.SearchLocations)

	api.Get("/history", handler.GetHistory)
	api.Post("/history", handler.AddHistory)
	api.Delete("/history", handler.ClearHistory)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
			"path":  c.Path(),
		})
	})

	log.Debug("Routes registered")
}

// ErrorHandler renders handler errors as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	zap.L().Error("HTTP error",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))

	// Default to 500 status code
	code := fiber.StatusInternalServerError

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   err.Error(),
		"success": false,
	})
}
