package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/yasailab/veggiecast/internal/api"
	"github.com/yasailab/veggiecast/internal/api/handlers"
	"github.com/yasailab/veggiecast/internal/cache"
	"github.com/yasailab/veggiecast/internal/config"
	"github.com/yasailab/veggiecast/internal/database"
	"github.com/yasailab/veggiecast/internal/services"
)

func main() {
	// Load .env if present; real deployments set env vars directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Repositories
	marketRepo := database.NewMarketRepository(db.Pool)
	weatherRepo := database.NewWeatherRepository(db.Pool)
	registry := database.NewModelRegistry(db.Pool, logger)

	// Services
	aggregator := services.NewPeriodAggregator(marketRepo, weatherRepo, cfg.Aggregation, logger)
	featureBuilder := services.NewFeatureBuilder(marketRepo, weatherRepo, logger)
	forecastEngine := services.NewForecastEngine(registry, featureBuilder, cfg.Forecast, logger)
	evaluator := services.NewEvaluationEngine(registry, marketRepo, featureBuilder, logger)

	cacheTTL, err := time.ParseDuration(cfg.Forecast.CacheTTL)
	if err != nil {
		log.Fatalf("Invalid forecast cache TTL %q: %v", cfg.Forecast.CacheTTL, err)
	}
	predictionCache := cache.NewRedisPredictionCache(redis.Client, cacheTTL)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	api.SetupRoutes(router, db, redis, api.Handlers{
		Aggregation: handlers.NewAggregationHandler(aggregator, marketRepo, weatherRepo),
		Forecast:    handlers.NewForecastHandler(forecastEngine, evaluator, predictionCache, marketRepo, weatherRepo, cfg.Forecast.DefaultRegion),
		Registry:    handlers.NewRegistryHandler(registry, marketRepo, predictionCache),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
