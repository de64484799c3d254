package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/yasailab/veggiecast/internal/models"
)

// EvaluationEngine measures how well a model version would have predicted
// historical outcomes. The replay is leak-free: each period's prediction is
// built only from the lagged aggregates the feature set references, exactly
// as a live forecast for that period would have been.
type EvaluationEngine struct {
	registry Registry
	market   MarketStore
	features *FeatureBuilder
	logger   *logrus.Logger
}

// NewEvaluationEngine creates an evaluation engine.
func NewEvaluationEngine(registry Registry, market MarketStore, features *FeatureBuilder, logger *logrus.Logger) *EvaluationEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &EvaluationEngine{
		registry: registry,
		market:   market,
		features: features,
		logger:   logger,
	}
}

// Evaluate replays the version over [first, last] and appends the resulting
// fit statistics to the version's evaluation history. Periods without an
// actual outcome, or whose features cannot be resolved, are skipped; a
// month-specific version only replays its own month. With fewer than two
// usable pairs, correlation and R squared stay nil and RMSE still reports
// over whatever pairs exist.
func (e *EvaluationEngine) Evaluate(ctx context.Context, versionID string, vegetableID, regionID int, first, last models.Period) (*models.Evaluation, error) {
	if first.After(last) {
		return nil, fmt.Errorf("invalid period range: %s after %s", first, last)
	}

	version, err := e.registry.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load model version: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("model version %s not found", versionID)
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

	var predicted, actual []float64
	for _, target := range models.PeriodsBetween(first, last) {
		if version.TargetMonth != models.AnyMonth && target.Month != version.TargetMonth {
			continue
		}

		mp, err := e.market.GetMarketPeriod(ctx, vegetableID, target)
		if err != nil {
			return nil, fmt.Errorf("failed to load outcome for %s: %w", target, err)
		}
		if mp == nil || mp.AveragePrice == nil {
			continue
		}

		vector, err := e.features.Build(ctx, vegetableID, regionID, target, set)
		if err != nil {
			if errors.Is(err, ErrFeatureUnavailable) {
				continue
			}
			return nil, err
		}

		point, err := applyModel(version.ID, coefs, vector)
		if err != nil {
			return nil, err
		}

		predicted = append(predicted, point)
		actual = append(actual, mp.AveragePrice.InexactFloat64())
	}

	if len(actual) == 0 {
		return nil, fmt.Errorf("%w: no outcome pairs in %s..%s", ErrNoAggregatedData, first, last)
	}

	featureCount := 0
	for _, v := range set.Variables {
		if v.Name != models.VarConst {
			featureCount++
		}
	}

	eval := computeEvaluation(version.ID, predicted, actual, featureCount)

	saved, err := e.registry.AppendEvaluation(ctx, eval)
	if err != nil {
		return nil, fmt.Errorf("failed to record evaluation: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"model_version": version.ID,
		"sample_size":   saved.SampleSize,
		"rmse":          saved.RMSE,
	}).Info("Evaluation recorded")

	return saved, nil
}

// computeEvaluation derives the fit statistics from replayed pairs.
func computeEvaluation(versionID string, predicted, actual []float64, featureCount int) models.Evaluation {
	n := len(actual)
	eval := models.Evaluation{
		ModelVersionID: versionID,
		SampleSize:     n,
		RMSE:           rmseOf(predicted, actual),
	}
	if n < 2 {
		return eval
	}

	if r, ok := pearson(predicted, actual); ok {
		eval.Correlation = &r
	}

	mean := meanFloat(actual)
	ssTot := 0.0
	ssRes := 0.0
	for i := range actual {
		d := actual[i] - mean
		ssTot += d * d
		r := actual[i] - predicted[i]
		ssRes += r * r
	}

	eval.ResVariation = &ssRes
	eval.TotalVariation = &ssTot
	ssReg := ssTot - ssRes
	eval.RegVariation = &ssReg

	if ssTot > 0 {
		r2 := 1 - ssRes/ssTot
		eval.RSquared = &r2

		if dof := n - featureCount - 1; dof > 0 {
			adj := 1 - (1-r2)*float64(n-1)/float64(dof)
			eval.AdjustedR2 = &adj

			se := math.Sqrt(ssRes / float64(dof))
			eval.StdError = &se
		}
	}

	return eval
}

// rmseOf is the root mean squared error of predicted against actual.
func rmseOf(predicted, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i := range actual {
		d := predicted[i] - actual[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// pearson is the sample correlation of x and y. Not defined when either
// series is constant.
func pearson(x, y []float64) (float64, bool) {
	n := float64(len(x))
	mx := meanFloat(x)
	my := meanFloat(y)

	var cov, vx, vy float64
	for i := range x {
		dx := x[i] - mx
		dy := y[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 || n < 2 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

func meanFloat(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
