package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yasailab/veggiecast/internal/config"
	"github.com/yasailab/veggiecast/internal/models"
)

func forecastCfg() config.ForecastConfig {
	return config.ForecastConfig{ConfidenceMultiplier: 2.0, DefaultRegion: "hiroshima", CacheTTL: "10m"}
}

// forecastFixture wires a registry and stores holding one active model:
// price = 0.8 * average_price(lag 24) + 0.2 * mean_temp(lag 1) + 5.
func forecastFixture(t *testing.T) (*fakeRegistry, *fakeMarketStore, *fakeWeatherStore, models.Period) {
	t.Helper()

	registry := newFakeRegistry()
	market := newFakeMarketStore()
	weather := newFakeWeatherStore()
	target := models.Period{Year: 2024, Month: 7, Half: models.FirstHalf}

	set := &models.FeatureSet{
		ID:          "fs-1",
		ModelKindID: "kind-1",
		TargetMonth: models.AnyMonth,
		Variables: []models.ForecastVariable{
			{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
			{Name: models.VarMeanTemp, Lag: 1},
		},
	}
	version := &models.ModelVersion{
		ID:           "v-1",
		ModelKindID:  "kind-1",
		TargetMonth:  models.AnyMonth,
		FeatureSetID: set.ID,
		IsActive:     true,
	}
	registry.featureSets[set.ID] = set
	registry.versions[version.ID] = version
	registry.coefs[version.ID] = []models.Coefficient{
		{ModelVersionID: version.ID, VariableName: models.VarAveragePrice, Lag: models.PeriodsPerYear, Value: 0.8},
		{ModelVersionID: version.ID, VariableName: models.VarMeanTemp, Lag: 1, Value: 0.2},
		{ModelVersionID: version.ID, VariableName: models.VarConst, Value: 5},
	}
	registry.setActive(1, models.AnyMonth, version)

	market.setPeriod(models.MarketPeriod{
		VegetableID:  1,
		Period:       target.Minus(models.PeriodsPerYear),
		AveragePrice: dec(100),
	})
	weather.setPeriod(models.WeatherPeriod{
		RegionID: 7,
		Period:   target.Minus(1),
		MeanTemp: f64(20),
	})

	return registry, market, weather, target
}

func TestForecastEngine_Predict(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	registry.evals["v-1"] = []models.Evaluation{{ModelVersionID: "v-1", RMSE: 3, SampleSize: 12}}

	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)
	prediction, err := engine.Predict(context.Background(), 1, 7, target)
	require.NoError(t, err)

	// 0.8*100 + 0.2*20 + 5 = 89
	assert.InDelta(t, 89.0, prediction.PointValue.InexactFloat64(), 1e-9)
	require.NotNil(t, prediction.LowerBound)
	require.NotNil(t, prediction.UpperBound)
	assert.InDelta(t, 83.0, prediction.LowerBound.InexactFloat64(), 1e-9, "point minus 2*RMSE")
	assert.InDelta(t, 95.0, prediction.UpperBound.InexactFloat64(), 1e-9, "point plus 2*RMSE")
	assert.Equal(t, "v-1", prediction.ModelVersionID)
	assert.Empty(t, prediction.Warnings)
}

func TestForecastEngine_Deterministic(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)

	first, err := engine.Predict(context.Background(), 1, 7, target)
	require.NoError(t, err)
	second, err := engine.Predict(context.Background(), 1, 7, target)
	require.NoError(t, err)

	assert.True(t, first.PointValue.Equal(second.PointValue))
	assert.Equal(t, first.ModelVersionID, second.ModelVersionID)
}

func TestForecastEngine_NoActiveModel(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)

	_, err := engine.Predict(context.Background(), 99, 7, target)
	assert.ErrorIs(t, err, ErrNoActiveModel)
}

func TestForecastEngine_NoEvaluationMeansNoBounds(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)

	prediction, err := engine.Predict(context.Background(), 1, 7, target)
	require.NoError(t, err)

	assert.Nil(t, prediction.LowerBound)
	assert.Nil(t, prediction.UpperBound)
	require.Len(t, prediction.Warnings, 1)
	assert.Contains(t, prediction.Warnings[0], "no evaluation")
}

func TestForecastEngine_MonthSpecificWinsOverAnyMonth(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)

	julySet := &models.FeatureSet{
		ID:          "fs-july",
		ModelKindID: "kind-1",
		TargetMonth: 7,
		Variables: []models.ForecastVariable{
			{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
		},
	}
	julyVersion := &models.ModelVersion{
		ID:           "v-july",
		ModelKindID:  "kind-1",
		TargetMonth:  7,
		FeatureSetID: julySet.ID,
		IsActive:     true,
	}
	registry.featureSets[julySet.ID] = julySet
	registry.versions[julyVersion.ID] = julyVersion
	registry.coefs[julyVersion.ID] = []models.Coefficient{
		{ModelVersionID: julyVersion.ID, VariableName: models.VarAveragePrice, Lag: models.PeriodsPerYear, Value: 1.5},
	}
	registry.setActive(1, 7, julyVersion)

	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)
	prediction, err := engine.Predict(context.Background(), 1, 7, target)
	require.NoError(t, err)

	assert.Equal(t, "v-july", prediction.ModelVersionID)
	assert.InDelta(t, 150.0, prediction.PointValue.InexactFloat64(), 1e-9)
}

func TestForecastEngine_FeatureUnavailable(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	// Remove the lagged market aggregate the model needs.
	delete(market.periods[1], target.Minus(models.PeriodsPerYear))

	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)
	_, err := engine.Predict(context.Background(), 1, 7, target)
	assert.ErrorIs(t, err, ErrFeatureUnavailable)
}

func TestForecastEngine_MissingFeatureSetIsIntegrityError(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	// The active version points at a feature set the registry no longer has.
	delete(registry.featureSets, "fs-1")

	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)
	_, err := engine.Predict(context.Background(), 1, 7, target)
	assert.ErrorIs(t, err, ErrModelIntegrity)
}

func TestForecastEngine_CoefficientWithoutFeature(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	registry.coefs["v-1"] = append(registry.coefs["v-1"], models.Coefficient{
		ModelVersionID: "v-1", VariableName: models.VarMinTemp, Lag: 3, Value: 0.1,
	})

	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)
	_, err := engine.Predict(context.Background(), 1, 7, target)
	assert.ErrorIs(t, err, ErrModelIntegrity)
}

func TestForecastEngine_FeatureWithoutCoefficient(t *testing.T) {
	registry, market, weather, target := forecastFixture(t)
	coefs := registry.coefs["v-1"]
	registry.coefs["v-1"] = coefs[:1]

	engine := NewForecastEngine(registry, NewFeatureBuilder(market, weather, nil), forecastCfg(), nil)
	_, err := engine.Predict(context.Background(), 1, 7, target)
	assert.ErrorIs(t, err, ErrModelIntegrity)
}
