package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variable names a feature set may reference. Weather variables resolve
// against WeatherPeriod aggregates, market variables against MarketPeriod
// aggregates. VarConst is the intercept term with an implicit feature of 1.
const (
	VarMaxTemp          = "max_temp"
	VarMeanTemp         = "mean_temp"
	VarMinTemp          = "min_temp"
	VarSumPrecipitation = "sum_precipitation"
	VarSunshineDuration = "sunshine_duration"
	VarMeanHumidity     = "mean_humidity"
	VarAveragePrice     = "average_price"
	VarArrivalVolume    = "arrival_volume"
	VarConst            = "const"
)

// WeatherVariables lists the variable names sourced from weather aggregates.
var WeatherVariables = map[string]bool{
	VarMaxTemp:          true,
	VarMeanTemp:         true,
	VarMinTemp:          true,
	VarSumPrecipitation: true,
	VarSunshineDuration: true,
	VarMeanHumidity:     true,
}

// MarketVariables lists the variable names sourced from market aggregates.
var MarketVariables = map[string]bool{
	VarAveragePrice:  true,
	VarArrivalVolume: true,
}

// AnyMonth marks a feature set or model version that applies to every
// target month rather than one specific month.
const AnyMonth = 0

// ModelKind identifies which kind of forecast model applies to a vegetable,
// e.g. "cabbage-spring-sown".
type ModelKind struct {
	ID          string    `json:"id" db:"id"`
	TagName     string    `json:"tag_name" db:"tag_name"`
	VegetableID int       `json:"vegetable_id" db:"vegetable_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ForecastVariable is one lag-qualified variable in a feature set.
// Lag counts semi-month steps backward from the target period: 0 is the
// target itself, 1 the previous period, PeriodsPerYear the equivalent
// period one year earlier.
type ForecastVariable struct {
	Name string `json:"name" db:"name"`
	Lag  int    `json:"lag_periods" db:"lag_periods"`
}

// FeatureSet is the ordered list of variables a model version's
// coefficients are defined against. TargetMonth is 1-12, or AnyMonth.
type FeatureSet struct {
	ID          string             `json:"id" db:"id"`
	ModelKindID string             `json:"model_kind_id" db:"model_kind_id"`
	TargetMonth int                `json:"target_month" db:"target_month"`
	Variables   []ForecastVariable `json:"variables"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}

// ModelVersion is one registered revision of a forecast model. For a given
// (ModelKindID, TargetMonth) at most one version is active at a time.
type ModelVersion struct {
	ID           string    `json:"id" db:"id"`
	ModelKindID  string    `json:"model_kind_id" db:"model_kind_id"`
	TargetMonth  int       `json:"target_month" db:"target_month"`
	FeatureSetID string    `json:"feature_set_id" db:"feature_set_id"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Coefficient is a fitted coefficient for one feature-set variable, together
// with the statistics the offline fitting process reported for it.
type Coefficient struct {
	ModelVersionID string   `json:"model_version_id" db:"model_version_id"`
	VariableName   string   `json:"variable_name" db:"variable_name"`
	Lag            int      `json:"lag_periods" db:"lag_periods"`
	Value          float64  `json:"coefficient" db:"coefficient"`
	StdError       *float64 `json:"standard_error,omitempty" db:"standard_error"`
	TValue         *float64 `json:"t_value,omitempty" db:"t_value"`
	PValue         *float64 `json:"p_value,omitempty" db:"p_value"`
}

// Evaluation is one fit-quality measurement of a model version over a
// historical window. Evaluations are append-only; the latest one is
// authoritative for comparisons. Correlation and RSquared are nil when
// fewer than two valid pairs were available.
type Evaluation struct {
	ID             string    `json:"id" db:"id"`
	ModelVersionID string    `json:"model_version_id" db:"model_version_id"`
	Correlation    *float64  `json:"correlation" db:"correlation"`
	RSquared       *float64  `json:"r_squared" db:"r_squared"`
	AdjustedR2     *float64  `json:"adjusted_r_squared,omitempty" db:"adjusted_r_squared"`
	RMSE           float64   `json:"rmse" db:"rmse"`
	StdError       *float64  `json:"standard_error,omitempty" db:"standard_error"`
	RegVariation   *float64  `json:"reg_variation,omitempty" db:"reg_variation"`
	ResVariation   *float64  `json:"res_variation,omitempty" db:"res_variation"`
	TotalVariation *float64  `json:"total_variation,omitempty" db:"total_variation"`
	SampleSize     int       `json:"sample_size" db:"sample_size"`
	EvaluatedAt    time.Time `json:"evaluated_at" db:"evaluated_at"`
}

// Feature is one resolved entry of a feature vector.
type Feature struct {
	Name  string `json:"name"`
	Lag   int    `json:"lag_periods"`
	Value float64 `json:"value"`
	// Source is the period the value was read from (target minus lag).
	Source Period `json:"source_period"`
}

// FeatureVector is the ordered feature values for one forecast target.
// Ordering matches the feature set's declared variable order; coefficient
// application depends on that ordering, not on name lookup.
type FeatureVector struct {
	VegetableID int       `json:"vegetable_id"`
	Target      Period    `json:"target_period"`
	Features    []Feature `json:"features"`
}

// Values returns the numeric values in declared order.
func (v FeatureVector) Values() []float64 {
	out := make([]float64, len(v.Features))
	for i, f := range v.Features {
		out[i] = f.Value
	}
	return out
}

// Prediction is the outcome of applying the active model version to a
// freshly built feature vector. Bounds are nil when no evaluation exists
// to derive them from; Warnings then carries an explicit note.
type Prediction struct {
	VegetableID    int              `json:"vegetable_id"`
	Period         Period           `json:"period"`
	PointValue     decimal.Decimal  `json:"point_value"`
	LowerBound     *decimal.Decimal `json:"lower_bound"`
	UpperBound     *decimal.Decimal `json:"upper_bound"`
	ModelVersionID string           `json:"model_version_id"`
	Warnings       []string         `json:"warnings"`
}
