package models

import "time"

// RawWeatherRecord is one validated daily weather observation for a region.
// Immutable once ingested; one per (date, region).
type RawWeatherRecord struct {
	ID               string    `json:"id" db:"id"`
	Date             time.Time `json:"date" db:"obs_date"`
	RegionID         int       `json:"region_id" db:"region_id"`
	MaxTemp          *float64  `json:"max_temp,omitempty" db:"max_temp"`
	MeanTemp         *float64  `json:"mean_temp,omitempty" db:"mean_temp"`
	MinTemp          *float64  `json:"min_temp,omitempty" db:"min_temp"`
	Precipitation    *float64  `json:"precipitation,omitempty" db:"precipitation"`
	SunshineDuration *float64  `json:"sunshine_duration,omitempty" db:"sunshine_duration"`
	MeanHumidity     *float64  `json:"mean_humidity,omitempty" db:"mean_humidity"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// WeatherPeriod is the semi-month aggregate of RawWeatherRecords for one
// region: arithmetic means for temperatures and humidity, sums for
// precipitation and sunshine, computed over the days actually present.
type WeatherPeriod struct {
	RegionID         int       `json:"region_id" db:"region_id"`
	Period           Period    `json:"period"`
	MaxTemp          *float64  `json:"max_temp,omitempty" db:"max_temp"`
	MeanTemp         *float64  `json:"mean_temp,omitempty" db:"mean_temp"`
	MinTemp          *float64  `json:"min_temp,omitempty" db:"min_temp"`
	SumPrecipitation *float64  `json:"sum_precipitation,omitempty" db:"sum_precipitation"`
	SunshineDuration *float64  `json:"sunshine_duration,omitempty" db:"sunshine_duration"`
	MeanHumidity     *float64  `json:"mean_humidity,omitempty" db:"mean_humidity"`
	DayCount         int       `json:"day_count" db:"day_count"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
