package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yasailab/veggiecast/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MarketRepository handles database operations for raw daily market prices
// and their semi-month aggregates.
type MarketRepository struct {
	pool DatabasePool
}

// NewMarketRepository creates a new market repository.
func NewMarketRepository(pool DatabasePool) *MarketRepository {
	return &MarketRepository{pool: pool}
}

// GetVegetableByName looks up a vegetable reference entity by name.
// Returns nil when the vegetable is not registered.
func (r *MarketRepository) GetVegetableByName(ctx context.Context, name string) (*models.Vegetable, error) {
	query := `SELECT id, name, code FROM vegetables WHERE name = $1`

	var v models.Vegetable
	err := r.pool.QueryRow(ctx, query, name).Scan(&v.ID, &v.Name, &v.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vegetable %q: %w", name, err)
	}

	return &v, nil
}

// GetVegetable looks up a vegetable reference entity by ID.
// Returns nil when the vegetable is not registered.
func (r *MarketRepository) GetVegetable(ctx context.Context, id int) (*models.Vegetable, error) {
	query := `SELECT id, name, code FROM vegetables WHERE id = $1`

	var v models.Vegetable
	err := r.pool.QueryRow(ctx, query, id).Scan(&v.ID, &v.Name, &v.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vegetable %d: %w", id, err)
	}

	return &v, nil
}

// RawPricesInRange returns the validated daily price records for a vegetable
// within [from, to], ordered by date.
func (r *MarketRepository) RawPricesInRange(ctx context.Context, vegetableID int, from, to time.Time) ([]models.RawPriceRecord, error) {
	query := `
		SELECT id, price_date, vegetable_id, high_price, median_price, low_price,
		       average_price, arrival_volume, unit_weight, trend_tag, created_at
		FROM market_prices
		WHERE vegetable_id = $1 AND price_date >= $2 AND price_date <= $3
		ORDER BY price_date ASC
	`

	rows, err := r.pool.Query(ctx, query, vegetableID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw prices: %w", err)
	}
	defer rows.Close()

	var records []models.RawPriceRecord
	for rows.Next() {
		var rec models.RawPriceRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Date,
			&rec.VegetableID,
			&rec.HighPrice,
			&rec.MedianPrice,
			&rec.LowPrice,
			&rec.AveragePrice,
			&rec.ArrivalVolume,
			&rec.UnitWeight,
			&rec.TrendTag,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw price record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw price records: %w", err)
	}

	return records, nil
}

// GetMarketPeriod returns the aggregate for one (vegetable, period) key.
// Returns nil when the bucket has not been aggregated.
func (r *MarketRepository) GetMarketPeriod(ctx context.Context, vegetableID int, period models.Period) (*models.MarketPeriod, error) {
	query := `
		SELECT vegetable_id, target_year, target_month, target_half,
		       high_price, median_price, low_price, average_price,
		       arrival_volume, day_count, trend, updated_at
		FROM market_periods
		WHERE vegetable_id = $1 AND target_year = $2 AND target_month = $3 AND target_half = $4
	`

	var mp models.MarketPeriod
	var half int
	err := r.pool.QueryRow(ctx, query, vegetableID, period.Year, period.Month, int(period.Half)).Scan(
		&mp.VegetableID,
		&mp.Period.Year,
		&mp.Period.Month,
		&half,
		&mp.HighPrice,
		&mp.MedianPrice,
		&mp.LowPrice,
		&mp.AveragePrice,
		&mp.ArrivalVolume,
		&mp.DayCount,
		&mp.Trend,
		&mp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get market period %s: %w", period, err)
	}
	mp.Period.Half = models.Half(half)

	return &mp, nil
}

// MarketPeriodsInRange returns the aggregates for a vegetable from first to
// last period inclusive, in period order.
func (r *MarketRepository) MarketPeriodsInRange(ctx context.Context, vegetableID int, first, last models.Period) ([]models.MarketPeriod, error) {
	// The composite (year, month, half) ordering matches period ordering,
	// so a tuple comparison selects the range directly.
	query := `
		SELECT vegetable_id, target_year, target_month, target_half,
		       high_price, median_price, low_price, average_price,
		       arrival_volume, day_count, trend, updated_at
		FROM market_periods
		WHERE vegetable_id = $1
		  AND (target_year, target_month, target_half) >= ($2, $3, $4)
		  AND (target_year, target_month, target_half) <= ($5, $6, $7)
		ORDER BY target_year, target_month, target_half
	`

	rows, err := r.pool.Query(ctx, query, vegetableID,
		first.Year, first.Month, int(first.Half),
		last.Year, last.Month, int(last.Half),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query market periods: %w", err)
	}
	defer rows.Close()

	var periods []models.MarketPeriod
	for rows.Next() {
		var mp models.MarketPeriod
		var half int
		err := rows.Scan(
			&mp.VegetableID,
			&mp.Period.Year,
			&mp.Period.Month,
			&half,
			&mp.HighPrice,
			&mp.MedianPrice,
			&mp.LowPrice,
			&mp.AveragePrice,
			&mp.ArrivalVolume,
			&mp.DayCount,
			&mp.Trend,
			&mp.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market period: %w", err)
		}
		mp.Period.Half = models.Half(half)
		periods = append(periods, mp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market periods: %w", err)
	}

	return periods, nil
}

// ReplaceMarketPeriods upserts a batch of aggregates in a single
// transaction. The natural-key upsert keeps re-aggregation idempotent:
// identical inputs overwrite each row with identical values.
func (r *MarketRepository) ReplaceMarketPeriods(ctx context.Context, periods []models.MarketPeriod) error {
	if len(periods) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO market_periods (
			vegetable_id, target_year, target_month, target_half,
			high_price, median_price, low_price, average_price,
			arrival_volume, day_count, trend, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		ON CONFLICT (vegetable_id, target_year, target_month, target_half)
		DO UPDATE SET
			high_price = EXCLUDED.high_price,
			median_price = EXCLUDED.median_price,
			low_price = EXCLUDED.low_price,
			average_price = EXCLUDED.average_price,
			arrival_volume = EXCLUDED.arrival_volume,
			day_count = EXCLUDED.day_count,
			trend = EXCLUDED.trend,
			updated_at = CURRENT_TIMESTAMP
	`

	for _, mp := range periods {
		_, err := tx.Exec(ctx, query,
			mp.VegetableID, mp.Period.Year, mp.Period.Month, int(mp.Period.Half),
			mp.HighPrice, mp.MedianPrice, mp.LowPrice, mp.AveragePrice,
			mp.ArrivalVolume, mp.DayCount, mp.Trend,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert market period %s: %w", mp.Period, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit market periods: %w", err)
	}

	return nil
}

// DeleteMarketPeriods removes the aggregates for a vegetable in the given
// period range. Used before a full recompute of a key.
func (r *MarketRepository) DeleteMarketPeriods(ctx context.Context, vegetableID int, first, last models.Period) (int64, error) {
	query := `
		DELETE FROM market_periods
		WHERE vegetable_id = $1
		  AND (target_year, target_month, target_half) >= ($2, $3, $4)
		  AND (target_year, target_month, target_half) <= ($5, $6, $7)
	`

	result, err := r.pool.Exec(ctx, query, vegetableID,
		first.Year, first.Month, int(first.Half),
		last.Year, last.Month, int(last.Half),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete market periods: %w", err)
	}

	return result.RowsAffected(), nil
}
