package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yasailab/veggiecast/internal/models"
)

func TestFeatureBuilder_Build(t *testing.T) {
	market := newFakeMarketStore()
	weather := newFakeWeatherStore()
	veg, region := 1, 7
	target := models.Period{Year: 2024, Month: 7, Half: models.FirstHalf}

	market.setPeriod(models.MarketPeriod{
		VegetableID:  veg,
		Period:       target.Minus(models.PeriodsPerYear),
		AveragePrice: dec(150),
	})
	weather.setPeriod(models.WeatherPeriod{
		RegionID: region,
		Period:   target.Minus(1),
		MeanTemp: f64(22.5),
	})

	set := &models.FeatureSet{
		ID: "fs-1",
		Variables: []models.ForecastVariable{
			{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
			{Name: models.VarMeanTemp, Lag: 1},
			{Name: models.VarConst, Lag: 0},
		},
	}

	builder := NewFeatureBuilder(market, weather, nil)
	vector, err := builder.Build(context.Background(), veg, region, target, set)
	require.NoError(t, err)

	require.Len(t, vector.Features, 3)
	assert.Equal(t, models.VarAveragePrice, vector.Features[0].Name)
	assert.InDelta(t, 150.0, vector.Features[0].Value, 1e-9)
	assert.Equal(t, models.Period{Year: 2023, Month: 7, Half: models.FirstHalf}, vector.Features[0].Source)

	assert.Equal(t, models.VarMeanTemp, vector.Features[1].Name)
	assert.InDelta(t, 22.5, vector.Features[1].Value, 1e-9)
	assert.Equal(t, models.Period{Year: 2024, Month: 6, Half: models.SecondHalf}, vector.Features[1].Source)

	assert.Equal(t, models.VarConst, vector.Features[2].Name)
	assert.InDelta(t, 1.0, vector.Features[2].Value, 1e-9)

	assert.Equal(t, []float64{150, 22.5, 1}, vector.Values())
}

func TestFeatureBuilder_MissingAggregate(t *testing.T) {
	builder := NewFeatureBuilder(newFakeMarketStore(), newFakeWeatherStore(), nil)
	target := models.Period{Year: 2024, Month: 7, Half: models.FirstHalf}

	set := &models.FeatureSet{
		Variables: []models.ForecastVariable{{Name: models.VarAveragePrice, Lag: 1}},
	}

	_, err := builder.Build(context.Background(), 1, 1, target, set)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
	assert.Contains(t, err.Error(), "average_price")
}

func TestFeatureBuilder_MissingFieldOnExistingAggregate(t *testing.T) {
	market := newFakeMarketStore()
	weather := newFakeWeatherStore()
	target := models.Period{Year: 2024, Month: 7, Half: models.FirstHalf}

	// Aggregate exists but the humidity sensor had no readings.
	weather.setPeriod(models.WeatherPeriod{
		RegionID: 1,
		Period:   target.Minus(2),
		MeanTemp: f64(20),
	})

	set := &models.FeatureSet{
		Variables: []models.ForecastVariable{{Name: models.VarMeanHumidity, Lag: 2}},
	}

	builder := NewFeatureBuilder(market, weather, nil)
	_, err := builder.Build(context.Background(), 1, 1, target, set)
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
}

func TestFeatureBuilder_UnknownVariable(t *testing.T) {
	builder := NewFeatureBuilder(newFakeMarketStore(), newFakeWeatherStore(), nil)
	target := models.Period{Year: 2024, Month: 7, Half: models.FirstHalf}

	set := &models.FeatureSet{
		Variables: []models.ForecastVariable{{Name: "moon_phase", Lag: 1}},
	}

	_, err := builder.Build(context.Background(), 1, 1, target, set)
	assert.ErrorIs(t, err, ErrModelIntegrity)
}

func TestFeatureBuilder_InvalidTarget(t *testing.T) {
	builder := NewFeatureBuilder(newFakeMarketStore(), newFakeWeatherStore(), nil)

	_, err := builder.Build(context.Background(), 1, 1,
		models.Period{Year: 2024, Month: 13, Half: models.FirstHalf},
		&models.FeatureSet{Variables: []models.ForecastVariable{{Name: models.VarConst}}})
	assert.Error(t, err)
}
