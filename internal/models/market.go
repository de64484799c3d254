package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend labels describe how a period's average price moved relative to the
// preceding period.
const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendStable  = "stable"
)

// Vegetable is a reference entity for a tracked crop.
type Vegetable struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Code string `json:"code" db:"code"`
}

// Region is a reference entity for a market/observation area. The code
// fields tie it back to the public data sources it was ingested from.
type Region struct {
	ID          int    `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	AreaCode    string `json:"area_code" db:"area_code"`
	MarketCode  string `json:"market_code" db:"market_code"`
	StationCode string `json:"station_code" db:"station_code"`
}

// RawPriceRecord is one validated daily market observation for a vegetable.
// Records are immutable once ingested; there is one per (date, vegetable).
type RawPriceRecord struct {
	ID            string           `json:"id" db:"id"`
	Date          time.Time        `json:"date" db:"price_date"`
	VegetableID   int              `json:"vegetable_id" db:"vegetable_id"`
	HighPrice     *decimal.Decimal `json:"high_price,omitempty" db:"high_price"`
	MedianPrice   *decimal.Decimal `json:"median_price,omitempty" db:"median_price"`
	LowPrice      *decimal.Decimal `json:"low_price,omitempty" db:"low_price"`
	AveragePrice  *decimal.Decimal `json:"average_price,omitempty" db:"average_price"`
	ArrivalVolume *decimal.Decimal `json:"arrival_volume,omitempty" db:"arrival_volume"`
	UnitWeight    *decimal.Decimal `json:"unit_weight,omitempty" db:"unit_weight"`
	TrendTag      string           `json:"trend_tag,omitempty" db:"trend_tag"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// MarketPeriod is the semi-month aggregate of RawPriceRecords for one
// vegetable. Keyed by (VegetableID, Period); recomputation upserts in place.
type MarketPeriod struct {
	VegetableID   int              `json:"vegetable_id" db:"vegetable_id"`
	Period        Period           `json:"period"`
	HighPrice     *decimal.Decimal `json:"high_price,omitempty" db:"high_price"`
	MedianPrice   *decimal.Decimal `json:"median_price,omitempty" db:"median_price"`
	LowPrice      *decimal.Decimal `json:"low_price,omitempty" db:"low_price"`
	AveragePrice  *decimal.Decimal `json:"average_price,omitempty" db:"average_price"`
	ArrivalVolume *decimal.Decimal `json:"arrival_volume,omitempty" db:"arrival_volume"`
	// DayCount is the number of raw daily records that contributed, so
	// consumers can judge how complete the bucket is.
	DayCount  int       `json:"day_count" db:"day_count"`
	Trend     string    `json:"trend" db:"trend"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
