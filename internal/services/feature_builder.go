package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yasailab/veggiecast/internal/models"
)

// FeatureBuilder resolves a feature set into concrete numeric values for a
// forecast target, reading each lagged variable from the aggregate store it
// belongs to. A missing aggregate or a missing field on an existing
// aggregate is an error, never a silent zero.
type FeatureBuilder struct {
	market  MarketStore
	weather WeatherStore
	logger  *logrus.Logger
}

// NewFeatureBuilder creates a feature builder.
func NewFeatureBuilder(market MarketStore, weather WeatherStore, logger *logrus.Logger) *FeatureBuilder {
	if logger == nil {
		logger = logrus.New()
	}
	return &FeatureBuilder{market: market, weather: weather, logger: logger}
}

// Build resolves every variable of the feature set against the target
// period, preserving the set's declared order. Market variables read from
// the vegetable's aggregates, weather variables from the region's. The
// intercept term resolves to 1.
func (b *FeatureBuilder) Build(ctx context.Context, vegetableID, regionID int, target models.Period, set *models.FeatureSet) (*models.FeatureVector, error) {
	if set == nil {
		return nil, fmt.Errorf("feature set is required")
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target period: %w", err)
	}

	vector := &models.FeatureVector{
		VegetableID: vegetableID,
		Target:      target,
		Features:    make([]models.Feature, 0, len(set.Variables)),
	}

	marketCache := make(map[models.Period]*models.MarketPeriod)
	weatherCache := make(map[models.Period]*models.WeatherPeriod)

	for _, v := range set.Variables {
		source := target.Minus(v.Lag)
		value, err := b.resolve(ctx, vegetableID, regionID, v, source, marketCache, weatherCache)
		if err != nil {
			return nil, err
		}
		vector.Features = append(vector.Features, models.Feature{
			Name:   v.Name,
			Lag:    v.Lag,
			Value:  value,
			Source: source,
		})
	}

	return vector, nil
}

func (b *FeatureBuilder) resolve(ctx context.Context, vegetableID, regionID int, v models.ForecastVariable, source models.Period,
	marketCache map[models.Period]*models.MarketPeriod, weatherCache map[models.Period]*models.WeatherPeriod) (float64, error) {

	switch {
	case v.Name == models.VarConst:
		return 1, nil

	case models.MarketVariables[v.Name]:
		mp, ok := marketCache[source]
		if !ok {
			var err error
			mp, err = b.market.GetMarketPeriod(ctx, vegetableID, source)
			if err != nil {
				return 0, fmt.Errorf("failed to load market period %s: %w", source, err)
			}
			marketCache[source] = mp
		}
		if mp == nil {
			return 0, fmt.Errorf("%w: %s lag %d, no market aggregate for %s", ErrFeatureUnavailable, v.Name, v.Lag, source)
		}
		return marketValue(mp, v, source)

	case models.WeatherVariables[v.Name]:
		wp, ok := weatherCache[source]
		if !ok {
			var err error
			wp, err = b.weather.GetWeatherPeriod(ctx, regionID, source)
			if err != nil {
				return 0, fmt.Errorf("failed to load weather period %s: %w", source, err)
			}
			weatherCache[source] = wp
		}
		if wp == nil {
			return 0, fmt.Errorf("%w: %s lag %d, no weather aggregate for %s", ErrFeatureUnavailable, v.Name, v.Lag, source)
		}
		return weatherValue(wp, v, source)

	default:
		return 0, fmt.Errorf("%w: unknown variable %q", ErrModelIntegrity, v.Name)
	}
}

func marketValue(mp *models.MarketPeriod, v models.ForecastVariable, source models.Period) (float64, error) {
	switch v.Name {
	case models.VarAveragePrice:
		if mp.AveragePrice == nil {
			return 0, fmt.Errorf("%w: average_price missing on %s", ErrFeatureUnavailable, source)
		}
		return mp.AveragePrice.InexactFloat64(), nil
	case models.VarArrivalVolume:
		if mp.ArrivalVolume == nil {
			return 0, fmt.Errorf("%w: arrival_volume missing on %s", ErrFeatureUnavailable, source)
		}
		return mp.ArrivalVolume.InexactFloat64(), nil
	}
	return 0, fmt.Errorf("%w: unknown market variable %q", ErrModelIntegrity, v.Name)
}

func weatherValue(wp *models.WeatherPeriod, v models.ForecastVariable, source models.Period) (float64, error) {
	var field *float64
	switch v.Name {
	case models.VarMaxTemp:
		field = wp.MaxTemp
	case models.VarMeanTemp:
		field = wp.MeanTemp
	case models.VarMinTemp:
		field = wp.MinTemp
	case models.VarSumPrecipitation:
		field = wp.SumPrecipitation
	case models.VarSunshineDuration:
		field = wp.SunshineDuration
	case models.VarMeanHumidity:
		field = wp.MeanHumidity
	default:
		return 0, fmt.Errorf("%w: unknown weather variable %q", ErrModelIntegrity, v.Name)
	}
	if field == nil {
		return 0, fmt.Errorf("%w: %s missing on %s", ErrFeatureUnavailable, v.Name, source)
	}
	return *field, nil
}
