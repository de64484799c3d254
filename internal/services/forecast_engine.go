package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yasailab/veggiecast/internal/config"
	"github.com/yasailab/veggiecast/internal/models"
)

// ForecastEngine produces point predictions with confidence bounds by
// applying the active model version's coefficients to a freshly built
// feature vector. Predictions are deterministic: same model state and
// same aggregates give the same output.
type ForecastEngine struct {
	registry Registry
	features *FeatureBuilder
	cfg      config.ForecastConfig
	logger   *logrus.Logger
}

// NewForecastEngine creates a forecast engine.
func NewForecastEngine(registry Registry, features *FeatureBuilder, cfg config.ForecastConfig, logger *logrus.Logger) *ForecastEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastEngine{
		registry: registry,
		features: features,
		cfg:      cfg,
		logger:   logger,
	}
}

// Predict forecasts the average price for one (vegetable, period) target.
// Month-specific active versions take precedence over any-month ones.
// Returns ErrNoActiveModel when no version is active for the target.
func (e *ForecastEngine) Predict(ctx context.Context, vegetableID, regionID int, target models.Period) (*models.Prediction, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target period: %w", err)
	}

	version, err := e.registry.ActiveVersionForVegetable(ctx, vegetableID, target.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active model: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("%w: vegetable %d month %d", ErrNoActiveModel, vegetableID, target.Month)
	}

	set, err := e.registry.GetFeatureSet(ctx, version.FeatureSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feature set: %w", err)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: version %s references missing feature set %s",
			ErrModelIntegrity, version.ID, version.FeatureSetID)
	}

	coefs, err := e.registry.CoefficientsForVersion(ctx, version.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load coefficients: %w", err)
	}

	vector, err := e.features.Build(ctx, vegetableID, regionID, target, set)
	if err != nil {
		return nil, err
	}

	point, err := applyModel(version.ID, coefs, vector)
	if err != nil {
		return nil, err
	}

	prediction := &models.Prediction{
		VegetableID:    vegetableID,
		Period:         target,
		PointValue:     decimal.NewFromFloat(point),
		ModelVersionID: version.ID,
	}

	eval, err := e.registry.LatestEvaluation(ctx, version.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest evaluation: %w", err)
	}
	if eval == nil {
		prediction.Warnings = append(prediction.Warnings,
			"no evaluation recorded for active model version; confidence bounds unavailable")
	} else {
		margin := e.cfg.ConfidenceMultiplier * eval.RMSE
		lower := decimal.NewFromFloat(point - margin)
		upper := decimal.NewFromFloat(point + margin)
		prediction.LowerBound = &lower
		prediction.UpperBound = &upper
	}

	e.logger.WithFields(logrus.Fields{
		"vegetable_id":  vegetableID,
		"target_period": target.String(),
		"model_version": version.ID,
		"point_value":   prediction.PointValue.String(),
	}).Debug("Forecast computed")

	return prediction, nil
}

// applyModel computes the linear combination of the vector's values with
// the version's coefficients, matched by (name, lag). Every non-intercept
// coefficient must correspond to exactly one feature and vice versa;
// anything else means the persisted model state is corrupt.
func applyModel(versionID string, coefs []models.Coefficient, vector *models.FeatureVector) (float64, error) {
	type key struct {
		name string
		lag  int
	}

	byKey := make(map[key]models.Coefficient, len(coefs))
	intercept := 0.0
	hasIntercept := false
	for _, c := range coefs {
		if c.VariableName == models.VarConst {
			if hasIntercept {
				return 0, fmt.Errorf("%w: version %s has duplicate intercept", ErrModelIntegrity, versionID)
			}
			intercept = c.Value
			hasIntercept = true
			continue
		}
		k := key{c.VariableName, c.Lag}
		if _, dup := byKey[k]; dup {
			return 0, fmt.Errorf("%w: version %s has duplicate coefficient for %s lag %d",
				ErrModelIntegrity, versionID, c.VariableName, c.Lag)
		}
		byKey[k] = c
	}

	sum := intercept
	for _, f := range vector.Features {
		if f.Name == models.VarConst {
			continue
		}
		c, ok := byKey[key{f.Name, f.Lag}]
		if !ok {
			return 0, fmt.Errorf("%w: version %s has no coefficient for %s lag %d",
				ErrModelIntegrity, versionID, f.Name, f.Lag)
		}
		sum += c.Value * f.Value
		delete(byKey, key{f.Name, f.Lag})
	}
	if len(byKey) != 0 {
		for k := range byKey {
			return 0, fmt.Errorf("%w: version %s has coefficient %s lag %d with no matching feature",
				ErrModelIntegrity, versionID, k.name, k.lag)
		}
	}

	return sum, nil
}
