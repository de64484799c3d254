package services

import (
	"context"
	"time"

	"github.com/yasailab/veggiecast/internal/models"
)

// MarketStore is the persistence surface the services need for raw daily
// prices and semi-month market aggregates. *database.MarketRepository
// implements it; tests substitute in-memory fakes.
type MarketStore interface {
	RawPricesInRange(ctx context.Context, vegetableID int, from, to time.Time) ([]models.RawPriceRecord, error)
	GetMarketPeriod(ctx context.Context, vegetableID int, period models.Period) (*models.MarketPeriod, error)
	MarketPeriodsInRange(ctx context.Context, vegetableID int, first, last models.Period) ([]models.MarketPeriod, error)
	ReplaceMarketPeriods(ctx context.Context, periods []models.MarketPeriod) error
}

// WeatherStore is the persistence surface for raw weather observations and
// semi-month weather aggregates. *database.WeatherRepository implements it.
type WeatherStore interface {
	RawWeatherInRange(ctx context.Context, regionID int, from, to time.Time) ([]models.RawWeatherRecord, error)
	GetWeatherPeriod(ctx context.Context, regionID int, period models.Period) (*models.WeatherPeriod, error)
	ReplaceWeatherPeriods(ctx context.Context, periods []models.WeatherPeriod) error
}

// Registry is the model registry surface the forecast and evaluation
// engines read from. *database.ModelRegistry implements it.
type Registry interface {
	ActiveVersionForVegetable(ctx context.Context, vegetableID, targetMonth int) (*models.ModelVersion, error)
	GetVersion(ctx context.Context, id string) (*models.ModelVersion, error)
	GetFeatureSet(ctx context.Context, id string) (*models.FeatureSet, error)
	CoefficientsForVersion(ctx context.Context, versionID string) ([]models.Coefficient, error)
	LatestEvaluation(ctx context.Context, versionID string) (*models.Evaluation, error)
	AppendEvaluation(ctx context.Context, eval models.Evaluation) (*models.Evaluation, error)
}
