package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yasailab/veggiecast/internal/models"
)

// MockPoolAdapter wraps pgxmock.PgxPoolIface to implement DatabasePool interface
type MockPoolAdapter struct {
	mock pgxmock.PgxPoolIface
}

func NewMockPoolAdapter(mock pgxmock.PgxPoolIface) DatabasePool {
	return &MockPoolAdapter{mock: mock}
}

func (m *MockPoolAdapter) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return m.mock.QueryRow(ctx, sql, args...)
}

func (m *MockPoolAdapter) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	result, err := m.mock.Exec(ctx, sql, args...)
	if err == nil {
		rows := result.RowsAffected()
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", rows)), nil
	}
	return pgconn.CommandTag{}, err
}

func (m *MockPoolAdapter) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return m.mock.Query(ctx, sql, args...)
}

func (m *MockPoolAdapter) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.mock.Begin(ctx)
}

func newRegistryWithMock(t *testing.T) (*ModelRegistry, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	t.Cleanup(mockPool.Close)

	return NewModelRegistry(NewMockPoolAdapter(mockPool), nil), mockPool
}

func TestModelRegistry_GetModelKindByTag_NotFound(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`SELECT id, tag_name, vegetable_id, created_at FROM forecast_model_kinds WHERE tag_name`).
		WithArgs("cabbage-spring").
		WillReturnError(pgx.ErrNoRows)

	kind, err := registry.GetModelKindByTag(context.Background(), "cabbage-spring")
	require.NoError(t, err)
	assert.Nil(t, kind)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestModelRegistry_CreateFeatureSet(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)
	variables := []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
		{Name: models.VarMeanTemp, Lag: 1},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO forecast_feature_sets`).
		WithArgs(pgxmock.AnyArg(), "kind-1", 7).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockPool.ExpectExec(`INSERT INTO forecast_variables`).
		WithArgs(pgxmock.AnyArg(), 0, models.VarAveragePrice, models.PeriodsPerYear).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(`INSERT INTO forecast_variables`).
		WithArgs(pgxmock.AnyArg(), 1, models.VarMeanTemp, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	fs, err := registry.CreateFeatureSet(context.Background(), "kind-1", 7, variables)
	require.NoError(t, err)
	assert.NotEmpty(t, fs.ID)
	assert.Equal(t, 7, fs.TargetMonth)
	assert.Len(t, fs.Variables, 2)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestModelRegistry_CreateFeatureSet_InvalidMonth(t *testing.T) {
	registry, _ := newRegistryWithMock(t)

	_, err := registry.CreateFeatureSet(context.Background(), "kind-1", 13,
		[]models.ForecastVariable{{Name: models.VarMeanTemp, Lag: 1}})
	assert.Error(t, err)

	_, err = registry.CreateFeatureSet(context.Background(), "kind-1", 7, nil)
	assert.Error(t, err)
}

func featureSetRows(id string, variables []models.ForecastVariable) (*pgxmock.Rows, *pgxmock.Rows) {
	setRows := pgxmock.NewRows([]string{"id", "model_kind_id", "target_month", "created_at"}).
		AddRow(id, "kind-1", 7, time.Now())
	varRows := pgxmock.NewRows([]string{"name", "lag_periods"})
	for _, v := range variables {
		varRows.AddRow(v.Name, v.Lag)
	}
	return setRows, varRows
}

func expectGetFeatureSet(mockPool pgxmock.PgxPoolIface, id string, variables []models.ForecastVariable) {
	setRows, varRows := featureSetRows(id, variables)
	mockPool.ExpectQuery(`SELECT id, model_kind_id, target_month, created_at FROM forecast_feature_sets`).
		WithArgs(id).
		WillReturnRows(setRows)
	mockPool.ExpectQuery(`FROM forecast_variables`).
		WithArgs(id).
		WillReturnRows(varRows)
}

func TestModelRegistry_RegisterVersion_CoefficientMismatch(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	expectGetFeatureSet(mockPool, "fs-1", []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
		{Name: models.VarMeanTemp, Lag: 1},
	})

	// Coefficients cover only one of the two variables.
	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: models.PeriodsPerYear, Value: 0.8},
	}

	_, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "fs-1", coefs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCoefficientMismatch)
	assert.NoError(t, mockPool.ExpectationsWereMet(), "nothing should be persisted")
}

func TestModelRegistry_RegisterVersion_WrongLagRejected(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	expectGetFeatureSet(mockPool, "fs-1", []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
	})

	// Right variable name, wrong lag.
	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: 1, Value: 0.8},
	}

	_, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "fs-1", coefs)
	assert.ErrorIs(t, err, ErrCoefficientMismatch)
}

func TestModelRegistry_RegisterVersion_AllowsConstIntercept(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	expectGetFeatureSet(mockPool, "fs-1", []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
	})

	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: models.PeriodsPerYear, Value: 0.8},
		{VariableName: models.VarConst, Value: 5},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO forecast_model_versions`).
		WithArgs(pgxmock.AnyArg(), "kind-1", 7, "fs-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockPool.ExpectExec(`INSERT INTO forecast_model_coefs`).
		WithArgs(pgxmock.AnyArg(), models.VarAveragePrice, models.PeriodsPerYear, 0.8, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(`INSERT INTO forecast_model_coefs`).
		WithArgs(pgxmock.AnyArg(), models.VarConst, 0, 5.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	version, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "fs-1", coefs)
	require.NoError(t, err)
	assert.False(t, version.IsActive, "new versions start inactive")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestModelRegistry_RegisterVersion_ConstInFeatureSet(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	// The feature set itself declares the intercept, as fitted models do.
	expectGetFeatureSet(mockPool, "fs-1", []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: 1},
		{Name: models.VarConst, Lag: 0},
	})

	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: 1, Value: 0.8},
		{VariableName: models.VarConst, Value: 5},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO forecast_model_versions`).
		WithArgs(pgxmock.AnyArg(), "kind-1", 7, "fs-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockPool.ExpectExec(`INSERT INTO forecast_model_coefs`).
		WithArgs(pgxmock.AnyArg(), models.VarAveragePrice, 1, 0.8, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(`INSERT INTO forecast_model_coefs`).
		WithArgs(pgxmock.AnyArg(), models.VarConst, 0, 5.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	_, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "fs-1", coefs)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestModelRegistry_RegisterVersion_ConstInFeatureSetWithoutCoefficient(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	expectGetFeatureSet(mockPool, "fs-1", []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: 1},
		{Name: models.VarConst, Lag: 0},
	})

	// The intercept is exempt from set equality, so omitting its
	// coefficient is fine.
	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: 1, Value: 0.8},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO forecast_model_versions`).
		WithArgs(pgxmock.AnyArg(), "kind-1", 7, "fs-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockPool.ExpectExec(`INSERT INTO forecast_model_coefs`).
		WithArgs(pgxmock.AnyArg(), models.VarAveragePrice, 1, 0.8, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	_, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "fs-1", coefs)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestModelRegistry_RegisterVersion_FeatureSetMissing(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`SELECT id, model_kind_id, target_month, created_at FROM forecast_feature_sets`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: 1, Value: 0.8},
	}

	_, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "missing", coefs)
	assert.ErrorIs(t, err, ErrFeatureSetNotFound)
}

func TestModelRegistry_GetFeatureSet_NotFound(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`SELECT id, model_kind_id, target_month, created_at FROM forecast_feature_sets`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	fs, err := registry.GetFeatureSet(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, fs)
}

func TestModelRegistry_RegisterVersion_DuplicateConstRejected(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	expectGetFeatureSet(mockPool, "fs-1", []models.ForecastVariable{
		{Name: models.VarAveragePrice, Lag: models.PeriodsPerYear},
	})

	coefs := []models.Coefficient{
		{VariableName: models.VarAveragePrice, Lag: models.PeriodsPerYear, Value: 0.8},
		{VariableName: models.VarConst, Value: 5},
		{VariableName: models.VarConst, Value: 6},
	}

	_, err := registry.RegisterVersion(context.Background(), "kind-1", 7, "fs-1", coefs)
	assert.ErrorIs(t, err, ErrCoefficientMismatch)
}

func TestModelRegistry_ActivateVersion(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT model_kind_id, target_month`).
		WithArgs("v-1").
		WillReturnRows(pgxmock.NewRows([]string{"model_kind_id", "target_month"}).AddRow("kind-1", 7))
	// Every version of the key gets locked before the flag updates, so two
	// activations under the same key cannot interleave.
	mockPool.ExpectQuery(`FOR UPDATE`).
		WithArgs("kind-1", 7).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("v-1").AddRow("v-0"))
	mockPool.ExpectExec(`SET is_active = false`).
		WithArgs("kind-1", 7, "v-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`SET is_active = true`).
		WithArgs("v-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectCommit()

	err := registry.ActivateVersion(context.Background(), "v-1")
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestModelRegistry_ActivateVersion_NotFound(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`SELECT model_kind_id, target_month`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectRollback()

	err := registry.ActivateVersion(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestModelRegistry_DeactivateVersion_NotFound(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectExec(`SET is_active = false`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := registry.DeactivateVersion(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestModelRegistry_ActiveVersionForVegetable_NoneActive(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`FROM forecast_model_versions v`).
		WithArgs(1, 7).
		WillReturnError(pgx.ErrNoRows)

	version, err := registry.ActiveVersionForVegetable(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Nil(t, version)
}

func TestModelRegistry_ActiveVersionForVegetable(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`FROM forecast_model_versions v`).
		WithArgs(1, 7).
		WillReturnRows(pgxmock.NewRows([]string{"id", "model_kind_id", "target_month", "feature_set_id", "is_active", "created_at"}).
			AddRow("v-1", "kind-1", 7, "fs-1", true, time.Now()))

	version, err := registry.ActiveVersionForVegetable(context.Background(), 1, 7)
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, "v-1", version.ID)
	assert.True(t, version.IsActive)
}

func TestModelRegistry_LatestEvaluation_None(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`FROM forecast_model_evaluations`).
		WithArgs("v-1").
		WillReturnError(pgx.ErrNoRows)

	eval, err := registry.LatestEvaluation(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Nil(t, eval)
}

func TestModelRegistry_GetVersion_NotFound(t *testing.T) {
	registry, mockPool := newRegistryWithMock(t)

	mockPool.ExpectQuery(`FROM forecast_model_versions`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := registry.GetVersion(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}
