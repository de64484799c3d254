package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yasailab/veggiecast/internal/models"
)

// WeatherRepository handles database operations for raw daily weather
// observations and their semi-month aggregates.
type WeatherRepository struct {
	pool DatabasePool
}

// NewWeatherRepository creates a new weather repository.
func NewWeatherRepository(pool DatabasePool) *WeatherRepository {
	return &WeatherRepository{pool: pool}
}

// GetRegionByName looks up a region reference entity by name.
// Returns nil when the region is not registered.
func (r *WeatherRepository) GetRegionByName(ctx context.Context, name string) (*models.Region, error) {
	query := `SELECT id, name, area_code, market_code, station_code FROM regions WHERE name = $1`

	var region models.Region
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&region.ID, &region.Name, &region.AreaCode, &region.MarketCode, &region.StationCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get region %q: %w", name, err)
	}

	return &region, nil
}

// GetRegion looks up a region reference entity by ID.
// Returns nil when the region is not registered.
func (r *WeatherRepository) GetRegion(ctx context.Context, id int) (*models.Region, error) {
	query := `SELECT id, name, area_code, market_code, station_code FROM regions WHERE id = $1`

	var region models.Region
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&region.ID, &region.Name, &region.AreaCode, &region.MarketCode, &region.StationCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get region %d: %w", id, err)
	}

	return &region, nil
}

// RawWeatherInRange returns the validated daily weather records for a
// region within [from, to], ordered by date.
func (r *WeatherRepository) RawWeatherInRange(ctx context.Context, regionID int, from, to time.Time) ([]models.RawWeatherRecord, error) {
	query := `
		SELECT id, obs_date, region_id, max_temp, mean_temp, min_temp,
		       precipitation, sunshine_duration, mean_humidity, created_at
		FROM weather_observations
		WHERE region_id = $1 AND obs_date >= $2 AND obs_date <= $3
		ORDER BY obs_date ASC
	`

	rows, err := r.pool.Query(ctx, query, regionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw weather: %w", err)
	}
	defer rows.Close()

	var records []models.RawWeatherRecord
	for rows.Next() {
		var rec models.RawWeatherRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Date,
			&rec.RegionID,
			&rec.MaxTemp,
			&rec.MeanTemp,
			&rec.MinTemp,
			&rec.Precipitation,
			&rec.SunshineDuration,
			&rec.MeanHumidity,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw weather record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw weather records: %w", err)
	}

	return records, nil
}

// GetWeatherPeriod returns the aggregate for one (region, period) key.
// Returns nil when the bucket has not been aggregated.
func (r *WeatherRepository) GetWeatherPeriod(ctx context.Context, regionID int, period models.Period) (*models.WeatherPeriod, error) {
	query := `
		SELECT region_id, target_year, target_month, target_half,
		       max_temp, mean_temp, min_temp, sum_precipitation,
		       sunshine_duration, mean_humidity, day_count, updated_at
		FROM weather_periods
		WHERE region_id = $1 AND target_year = $2 AND target_month = $3 AND target_half = $4
	`

	var wp models.WeatherPeriod
	var half int
	err := r.pool.QueryRow(ctx, query, regionID, period.Year, period.Month, int(period.Half)).Scan(
		&wp.RegionID,
		&wp.Period.Year,
		&wp.Period.Month,
		&half,
		&wp.MaxTemp,
		&wp.MeanTemp,
		&wp.MinTemp,
		&wp.SumPrecipitation,
		&wp.SunshineDuration,
		&wp.MeanHumidity,
		&wp.DayCount,
		&wp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get weather period %s: %w", period, err)
	}
	wp.Period.Half = models.Half(half)

	return &wp, nil
}

// WeatherPeriodsInRange returns the aggregates for a region from first to
// last period inclusive, in period order.
func (r *WeatherRepository) WeatherPeriodsInRange(ctx context.Context, regionID int, first, last models.Period) ([]models.WeatherPeriod, error) {
	query := `
		SELECT region_id, target_year, target_month, target_half,
		       max_temp, mean_temp, min_temp, sum_precipitation,
		       sunshine_duration, mean_humidity, day_count, updated_at
		FROM weather_periods
		WHERE region_id = $1
		  AND (target_year, target_month, target_half) >= ($2, $3, $4)
		  AND (target_year, target_month, target_half) <= ($5, $6, $7)
		ORDER BY target_year, target_month, target_half
	`

	rows, err := r.pool.Query(ctx, query, regionID,
		first.Year, first.Month, int(first.Half),
		last.Year, last.Month, int(last.Half),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather periods: %w", err)
	}
	defer rows.Close()

	var periods []models.WeatherPeriod
	for rows.Next() {
		var wp models.WeatherPeriod
		var half int
		err := rows.Scan(
			&wp.RegionID,
			&wp.Period.Year,
			&wp.Period.Month,
			&half,
			&wp.MaxTemp,
			&wp.MeanTemp,
			&wp.MinTemp,
			&wp.SumPrecipitation,
			&wp.SunshineDuration,
			&wp.MeanHumidity,
			&wp.DayCount,
			&wp.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan weather period: %w", err)
		}
		wp.Period.Half = models.Half(half)
		periods = append(periods, wp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weather periods: %w", err)
	}

	return periods, nil
}

// ReplaceWeatherPeriods upserts a batch of aggregates in a single
// transaction, keyed by the natural (region, period) key.
func (r *WeatherRepository) ReplaceWeatherPeriods(ctx context.Context, periods []models.WeatherPeriod) error {
	if len(periods) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO weather_periods (
			region_id, target_year, target_month, target_half,
			max_temp, mean_temp, min_temp, sum_precipitation,
			sunshine_duration, mean_humidity, day_count, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		ON CONFLICT (region_id, target_year, target_month, target_half)
		DO UPDATE SET
			max_temp = EXCLUDED.max_temp,
			mean_temp = EXCLUDED.mean_temp,
			min_temp = EXCLUDED.min_temp,
			sum_precipitation = EXCLUDED.sum_precipitation,
			sunshine_duration = EXCLUDED.sunshine_duration,
			mean_humidity = EXCLUDED.mean_humidity,
			day_count = EXCLUDED.day_count,
			updated_at = CURRENT_TIMESTAMP
	`

	for _, wp := range periods {
		_, err := tx.Exec(ctx, query,
			wp.RegionID, wp.Period.Year, wp.Period.Month, int(wp.Period.Half),
			wp.MaxTemp, wp.MeanTemp, wp.MinTemp, wp.SumPrecipitation,
			wp.SunshineDuration, wp.MeanHumidity, wp.DayCount,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert weather period %s: %w", wp.Period, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit weather periods: %w", err)
	}

	return nil
}

// DeleteWeatherPeriods removes the aggregates for a region in the given
// period range.
func (r *WeatherRepository) DeleteWeatherPeriods(ctx context.Context, regionID int, first, last models.Period) (int64, error) {
	query := `
		DELETE FROM weather_periods
		WHERE region_id = $1
		  AND (target_year, target_month, target_half) >= ($2, $3, $4)
		  AND (target_year, target_month, target_half) <= ($5, $6, $7)
	`

	result, err := r.pool.Exec(ctx, query, regionID,
		first.Year, first.Month, int(first.Half),
		last.Year, last.Month, int(last.Half),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete weather periods: %w", err)
	}

	return result.RowsAffected(), nil
}
