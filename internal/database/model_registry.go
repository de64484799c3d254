package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/yasailab/veggiecast/internal/models"
)

var (
	// ErrCoefficientMismatch is returned when a coefficient set's
	// variables do not exactly match the referenced feature set.
	ErrCoefficientMismatch = errors.New("coefficient variables do not match feature set")
	// ErrVersionNotFound is returned when a model version ID does not exist.
	ErrVersionNotFound = errors.New("model version not found")
	// ErrFeatureSetNotFound is returned when a feature set ID does not exist.
	ErrFeatureSetNotFound = errors.New("feature set not found")
)

// ModelRegistry stores forecast model kinds, feature sets, versioned
// coefficient sets and their evaluations. Activation is transactional: for
// any (model_kind_id, target_month) key at most one version is active.
type ModelRegistry struct {
	pool   DatabasePool
	logger *logrus.Logger
}

// NewModelRegistry creates a new model registry.
func NewModelRegistry(pool DatabasePool, logger *logrus.Logger) *ModelRegistry {
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelRegistry{pool: pool, logger: logger}
}

// CreateModelKind registers a named model category for a vegetable.
func (r *ModelRegistry) CreateModelKind(ctx context.Context, tagName string, vegetableID int) (*models.ModelKind, error) {
	query := `
		INSERT INTO forecast_model_kinds (id, tag_name, vegetable_id)
		VALUES ($1, $2, $3)
		RETURNING id, tag_name, vegetable_id, created_at
	`

	var kind models.ModelKind
	err := r.pool.QueryRow(ctx, query, uuid.NewString(), tagName, vegetableID).Scan(
		&kind.ID, &kind.TagName, &kind.VegetableID, &kind.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model kind %q: %w", tagName, err)
	}

	return &kind, nil
}

// GetModelKindByTag looks up a model kind by its tag name.
// Returns nil when no kind carries the tag.
func (r *ModelRegistry) GetModelKindByTag(ctx context.Context, tagName string) (*models.ModelKind, error) {
	query := `SELECT id, tag_name, vegetable_id, created_at FROM forecast_model_kinds WHERE tag_name = $1`

	var kind models.ModelKind
	err := r.pool.QueryRow(ctx, query, tagName).Scan(
		&kind.ID, &kind.TagName, &kind.VegetableID, &kind.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get model kind %q: %w", tagName, err)
	}

	return &kind, nil
}

// GetModelKind looks up a model kind by ID.
// Returns nil when the ID does not exist.
func (r *ModelRegistry) GetModelKind(ctx context.Context, id string) (*models.ModelKind, error) {
	query := `SELECT id, tag_name, vegetable_id, created_at FROM forecast_model_kinds WHERE id = $1`

	var kind models.ModelKind
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&kind.ID, &kind.TagName, &kind.VegetableID, &kind.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get model kind %s: %w", id, err)
	}

	return &kind, nil
}

// ModelKindsForVegetable returns every model kind registered for a vegetable.
func (r *ModelRegistry) ModelKindsForVegetable(ctx context.Context, vegetableID int) ([]models.ModelKind, error) {
	query := `
		SELECT id, tag_name, vegetable_id, created_at
		FROM forecast_model_kinds
		WHERE vegetable_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, vegetableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model kinds: %w", err)
	}
	defer rows.Close()

	var kinds []models.ModelKind
	for rows.Next() {
		var kind models.ModelKind
		if err := rows.Scan(&kind.ID, &kind.TagName, &kind.VegetableID, &kind.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model kind: %w", err)
		}
		kinds = append(kinds, kind)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model kinds: %w", err)
	}

	return kinds, nil
}

// CreateFeatureSet stores a feature set and its ordered variables in one
// transaction.
func (r *ModelRegistry) CreateFeatureSet(ctx context.Context, modelKindID string, targetMonth int, variables []models.ForecastVariable) (*models.FeatureSet, error) {
	if targetMonth != models.AnyMonth && (targetMonth < 1 || targetMonth > 12) {
		return nil, fmt.Errorf("invalid target month %d: must be 1-12 or 0 for any", targetMonth)
	}
	if len(variables) == 0 {
		return nil, fmt.Errorf("feature set requires at least one variable")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fs := models.FeatureSet{
		ID:          uuid.NewString(),
		ModelKindID: modelKindID,
		TargetMonth: targetMonth,
		Variables:   variables,
	}

	insertSet := `
		INSERT INTO forecast_feature_sets (id, model_kind_id, target_month)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insertSet, fs.ID, fs.ModelKindID, fs.TargetMonth).Scan(&fs.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create feature set: %w", err)
	}

	insertVar := `
		INSERT INTO forecast_variables (feature_set_id, position, name, lag_periods)
		VALUES ($1, $2, $3, $4)
	`
	for i, v := range variables {
		if _, err := tx.Exec(ctx, insertVar, fs.ID, i, v.Name, v.Lag); err != nil {
			return nil, fmt.Errorf("failed to store variable %q: %w", v.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit feature set: %w", err)
	}

	return &fs, nil
}

// GetFeatureSet returns a feature set with its variables in declared order.
// Returns nil when the ID does not exist.
func (r *ModelRegistry) GetFeatureSet(ctx context.Context, id string) (*models.FeatureSet, error) {
	query := `SELECT id, model_kind_id, target_month, created_at FROM forecast_feature_sets WHERE id = $1`

	var fs models.FeatureSet
	err := r.pool.QueryRow(ctx, query, id).Scan(&fs.ID, &fs.ModelKindID, &fs.TargetMonth, &fs.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feature set: %w", err)
	}

	varQuery := `
		SELECT name, lag_periods
		FROM forecast_variables
		WHERE feature_set_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, varQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature set variables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.ForecastVariable
		if err := rows.Scan(&v.Name, &v.Lag); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		fs.Variables = append(fs.Variables, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variables: %w", err)
	}

	return &fs, nil
}

// RegisterVersion stores a new, inactive model version together with its
// coefficients. The coefficient set must cover the feature set's variables
// exactly, plus optionally a "const" intercept coefficient; any mismatch is
// rejected before anything is persisted.
func (r *ModelRegistry) RegisterVersion(ctx context.Context, modelKindID string, targetMonth int, featureSetID string, coefs []models.Coefficient) (*models.ModelVersion, error) {
	fs, err := r.GetFeatureSet(ctx, featureSetID)
	if err != nil {
		return nil, err
	}
	if fs == nil {
		return nil, fmt.Errorf("%w: %s", ErrFeatureSetNotFound, featureSetID)
	}

	if err := validateCoefficients(fs, coefs); err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	version := models.ModelVersion{
		ID:           uuid.NewString(),
		ModelKindID:  modelKindID,
		TargetMonth:  targetMonth,
		FeatureSetID: featureSetID,
	}

	insertVersion := `
		INSERT INTO forecast_model_versions (id, model_kind_id, target_month, feature_set_id, is_active)
		VALUES ($1, $2, $3, $4, false)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insertVersion, version.ID, version.ModelKindID, version.TargetMonth, version.FeatureSetID).Scan(&version.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create model version: %w", err)
	}

	insertCoef := `
		INSERT INTO forecast_model_coefs (model_version_id, variable_name, lag_periods, coefficient, standard_error, t_value, p_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, c := range coefs {
		if _, err := tx.Exec(ctx, insertCoef, version.ID, c.VariableName, c.Lag, c.Value, c.StdError, c.TValue, c.PValue); err != nil {
			return nil, fmt.Errorf("failed to store coefficient %q: %w", c.VariableName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit model version: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"model_version_id": version.ID,
		"model_kind_id":    modelKindID,
		"target_month":     targetMonth,
		"coefficients":     len(coefs),
	}).Info("Registered forecast model version")

	return &version, nil
}

// validateCoefficients checks set equality between the coefficient set and
// the feature set's (name, lag) variables. The "const" intercept term is
// exempt on both sides: a feature set may declare it and a coefficient set
// may carry at most one, independently of each other.
func validateCoefficients(fs *models.FeatureSet, coefs []models.Coefficient) error {
	type key struct {
		name string
		lag  int
	}

	want := make(map[key]int, len(fs.Variables))
	for _, v := range fs.Variables {
		if v.Name == models.VarConst {
			continue
		}
		want[key{v.Name, v.Lag}]++
	}

	got := make(map[key]int, len(coefs))
	constSeen := 0
	for _, c := range coefs {
		if c.VariableName == models.VarConst {
			constSeen++
			if constSeen > 1 {
				return fmt.Errorf("%w: duplicate const coefficient", ErrCoefficientMismatch)
			}
			continue
		}
		got[key{c.VariableName, c.Lag}]++
	}

	if len(want) != len(got) {
		return fmt.Errorf("%w: feature set has %d variables, coefficients cover %d",
			ErrCoefficientMismatch, len(want), len(got))
	}
	for k, n := range want {
		if got[k] != n {
			return fmt.Errorf("%w: variable %s (lag %d) not covered exactly",
				ErrCoefficientMismatch, k.name, k.lag)
		}
	}

	return nil
}

// GetVersion returns a model version by ID, or ErrVersionNotFound.
func (r *ModelRegistry) GetVersion(ctx context.Context, id string) (*models.ModelVersion, error) {
	query := `
		SELECT id, model_kind_id, target_month, feature_set_id, is_active, created_at
		FROM forecast_model_versions
		WHERE id = $1
	`

	var v models.ModelVersion
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.ModelKindID, &v.TargetMonth, &v.FeatureSetID, &v.IsActive, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get model version: %w", err)
	}

	return &v, nil
}

// ActivateVersion marks a version active and deactivates any previously
// active version for the same (model_kind_id, target_month) key in the same
// transaction, so the single-active invariant never transiently breaks.
func (r *ModelRegistry) ActivateVersion(ctx context.Context, versionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var modelKindID string
	var targetMonth int
	selectVersion := `
		SELECT model_kind_id, target_month
		FROM forecast_model_versions
		WHERE id = $1
	`
	if err := tx.QueryRow(ctx, selectVersion, versionID).Scan(&modelKindID, &targetMonth); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionNotFound
		}
		return fmt.Errorf("failed to look up model version: %w", err)
	}

	// Lock every version of the key, not just the target row. Concurrent
	// activations of different versions under the same key must serialize
	// or both could end up active.
	lockKey := `
		SELECT id
		FROM forecast_model_versions
		WHERE model_kind_id = $1 AND target_month = $2
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockKey, modelKindID, targetMonth)
	if err != nil {
		return fmt.Errorf("failed to lock model versions: %w", err)
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock model versions: %w", err)
	}

	deactivate := `
		UPDATE forecast_model_versions
		SET is_active = false
		WHERE model_kind_id = $1 AND target_month = $2 AND is_active = true AND id <> $3
	`
	if _, err := tx.Exec(ctx, deactivate, modelKindID, targetMonth, versionID); err != nil {
		return fmt.Errorf("failed to deactivate previous version: %w", err)
	}

	activate := `UPDATE forecast_model_versions SET is_active = true WHERE id = $1`
	if _, err := tx.Exec(ctx, activate, versionID); err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"model_version_id": versionID,
		"model_kind_id":    modelKindID,
		"target_month":     targetMonth,
	}).Info("Activated forecast model version")

	return nil
}

// DeactivateVersion clears the active flag for a version. The key is left
// without forecasting capability until another version is activated.
func (r *ModelRegistry) DeactivateVersion(ctx context.Context, versionID string) error {
	query := `UPDATE forecast_model_versions SET is_active = false WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, versionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionNotFound
	}

	return nil
}

// ActiveVersionForVegetable finds the active model version covering a
// vegetable for the given target month. Month-specific versions win over
// any-month versions. Returns nil when no active version exists.
func (r *ModelRegistry) ActiveVersionForVegetable(ctx context.Context, vegetableID, targetMonth int) (*models.ModelVersion, error) {
	query := `
		SELECT v.id, v.model_kind_id, v.target_month, v.feature_set_id, v.is_active, v.created_at
		FROM forecast_model_versions v
		JOIN forecast_model_kinds k ON k.id = v.model_kind_id
		WHERE k.vegetable_id = $1
		  AND v.is_active = true
		  AND (v.target_month = $2 OR v.target_month = 0)
		ORDER BY v.target_month DESC, v.created_at DESC
		LIMIT 1
	`

	var v models.ModelVersion
	err := r.pool.QueryRow(ctx, query, vegetableID, targetMonth).Scan(
		&v.ID, &v.ModelKindID, &v.TargetMonth, &v.FeatureSetID, &v.IsActive, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active version: %w", err)
	}

	return &v, nil
}

// CoefficientsForVersion returns a version's coefficients. Ordering is by
// (variable_name, lag) for stable output; the forecast engine aligns them
// to the feature set's declared order by key.
func (r *ModelRegistry) CoefficientsForVersion(ctx context.Context, versionID string) ([]models.Coefficient, error) {
	query := `
		SELECT model_version_id, variable_name, lag_periods, coefficient, standard_error, t_value, p_value
		FROM forecast_model_coefs
		WHERE model_version_id = $1
	`

	rows, err := r.pool.Query(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coefficients: %w", err)
	}
	defer rows.Close()

	var coefs []models.Coefficient
	for rows.Next() {
		var c models.Coefficient
		err := rows.Scan(&c.ModelVersionID, &c.VariableName, &c.Lag, &c.Value, &c.StdError, &c.TValue, &c.PValue)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coefficient: %w", err)
		}
		coefs = append(coefs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coefficients: %w", err)
	}

	sort.Slice(coefs, func(i, j int) bool {
		if coefs[i].VariableName != coefs[j].VariableName {
			return coefs[i].VariableName < coefs[j].VariableName
		}
		return coefs[i].Lag < coefs[j].Lag
	})

	return coefs, nil
}

// AppendEvaluation stores a new evaluation for a version. Evaluations are
// append-only; existing rows are never rewritten.
func (r *ModelRegistry) AppendEvaluation(ctx context.Context, eval models.Evaluation) (*models.Evaluation, error) {
	query := `
		INSERT INTO forecast_model_evaluations (
			id, model_version_id, correlation, r_squared, adjusted_r_squared,
			rmse, standard_error, reg_variation, res_variation, total_variation,
			sample_size
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING evaluated_at
	`

	eval.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, query,
		eval.ID, eval.ModelVersionID, eval.Correlation, eval.RSquared, eval.AdjustedR2,
		eval.RMSE, eval.StdError, eval.RegVariation, eval.ResVariation, eval.TotalVariation,
		eval.SampleSize,
	).Scan(&eval.EvaluatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append evaluation: %w", err)
	}

	return &eval, nil
}

// LatestEvaluation returns the most recent evaluation for a version, or nil
// when the version has never been evaluated.
func (r *ModelRegistry) LatestEvaluation(ctx context.Context, versionID string) (*models.Evaluation, error) {
	query := `
		SELECT id, model_version_id, correlation, r_squared, adjusted_r_squared,
		       rmse, standard_error, reg_variation, res_variation, total_variation,
		       sample_size, evaluated_at
		FROM forecast_model_evaluations
		WHERE model_version_id = $1
		ORDER BY evaluated_at DESC
		LIMIT 1
	`

	var e models.Evaluation
	err := r.pool.QueryRow(ctx, query, versionID).Scan(
		&e.ID, &e.ModelVersionID, &e.Correlation, &e.RSquared, &e.AdjustedR2,
		&e.RMSE, &e.StdError, &e.RegVariation, &e.ResVariation, &e.TotalVariation,
		&e.SampleSize, &e.EvaluatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest evaluation: %w", err)
	}

	return &e, nil
}

// ListEvaluations returns the evaluation history for a version, newest first.
func (r *ModelRegistry) ListEvaluations(ctx context.Context, versionID string) ([]models.Evaluation, error) {
	query := `
		SELECT id, model_version_id, correlation, r_squared, adjusted_r_squared,
		       rmse, standard_error, reg_variation, res_variation, total_variation,
		       sample_size, evaluated_at
		FROM forecast_model_evaluations
		WHERE model_version_id = $1
		ORDER BY evaluated_at DESC
	`

	rows, err := r.pool.Query(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []models.Evaluation
	for rows.Next() {
		var e models.Evaluation
		err := rows.Scan(
			&e.ID, &e.ModelVersionID, &e.Correlation, &e.RSquared, &e.AdjustedR2,
			&e.RMSE, &e.StdError, &e.RegVariation, &e.ResVariation, &e.TotalVariation,
			&e.SampleSize, &e.EvaluatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evals, nil
}
