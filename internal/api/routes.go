package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yasailab/veggiecast/internal/api/handlers"
	"github.com/yasailab/veggiecast/internal/database"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Handlers bundles the HTTP handlers the router mounts.
type Handlers struct {
	Aggregation *handlers.AggregationHandler
	Forecast    *handlers.ForecastHandler
	Registry    *handlers.RegistryHandler
}

func SetupRoutes(router *gin.Engine, db *database.PostgresDB, redis *database.RedisClient, h Handlers) {
	// Health check endpoint
	router.GET("/health", healthCheck(db, redis))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Aggregation runs
		aggregate := v1.Group("/aggregate")
		{
			aggregate.POST("/market", h.Aggregation.AggregateMarket)
			aggregate.POST("/market/batch", h.Aggregation.AggregateMarketBatch)
			aggregate.POST("/weather", h.Aggregation.AggregateWeather)
		}

		// Aggregated period reads and resets
		periods := v1.Group("/periods")
		{
			periods.GET("/market/:vegetable", h.Aggregation.GetMarketPeriods)
			periods.DELETE("/market/:vegetable", h.Aggregation.DeleteMarketPeriods)
			periods.GET("/weather/:region", h.Aggregation.GetWeatherPeriods)
			periods.DELETE("/weather/:region", h.Aggregation.DeleteWeatherPeriods)
		}

		// Forecasts
		v1.GET("/forecast/:vegetable", h.Forecast.GetForecast)

		// Model registry
		mdl := v1.Group("/models")
		{
			mdl.POST("/kinds", h.Registry.CreateModelKind)
			mdl.GET("/kinds", h.Registry.ListModelKinds)
			mdl.POST("/feature-sets", h.Registry.CreateFeatureSet)
			mdl.GET("/feature-sets/:id", h.Registry.GetFeatureSet)
			mdl.POST("/versions", h.Registry.RegisterVersion)
			mdl.GET("/versions/:id", h.Registry.GetVersion)
			mdl.POST("/versions/:id/activate", h.Registry.ActivateVersion)
			mdl.POST("/versions/:id/deactivate", h.Registry.DeactivateVersion)
			mdl.POST("/versions/:id/evaluate", h.Forecast.Evaluate)
			mdl.GET("/versions/:id/evaluations", h.Registry.ListEvaluations)
		}
	}
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
		}

		// Check database health
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		// Check Redis health
		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
