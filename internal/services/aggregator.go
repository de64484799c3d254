package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yasailab/veggiecast/internal/config"
	"github.com/yasailab/veggiecast/internal/models"
	"golang.org/x/sync/errgroup"
)

// AggregationReport summarizes one aggregation run.
type AggregationReport struct {
	Periods int `json:"periods"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Days    int `json:"days"`
}

// PeriodAggregator buckets validated daily records into semi-month periods
// and upserts the aggregates. Average price is day-equally-weighted (every
// day counts once, regardless of arrival volume); this matches how the
// models were fit and keeps trend classification independent of volume
// swings.
type PeriodAggregator struct {
	market  MarketStore
	weather WeatherStore
	cfg     config.AggregationConfig
	logger  *logrus.Logger
}

// NewPeriodAggregator creates a period aggregator.
func NewPeriodAggregator(market MarketStore, weather WeatherStore, cfg config.AggregationConfig, logger *logrus.Logger) *PeriodAggregator {
	if logger == nil {
		logger = logrus.New()
	}
	return &PeriodAggregator{
		market:  market,
		weather: weather,
		cfg:     cfg,
		logger:  logger,
	}
}

// AggregateMarket recomputes the market aggregates for one vegetable over
// [from, to]. Buckets with no raw records are not created; partially
// covered buckets are aggregated from the days present. The run is
// idempotent: unchanged raw inputs produce identical rows.
func (a *PeriodAggregator) AggregateMarket(ctx context.Context, vegetableID int, from, to time.Time) (*AggregationReport, error) {
	if from.After(to) {
		return nil, fmt.Errorf("invalid date range: %s after %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	records, err := a.market.RawPricesInRange(ctx, vegetableID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw prices: %w", err)
	}
	if len(records) == 0 {
		return &AggregationReport{}, nil
	}

	buckets := make(map[models.Period][]models.RawPriceRecord)
	for _, rec := range records {
		if err := validatePriceRecord(rec, vegetableID, from, to); err != nil {
			return nil, err
		}
		p := models.PeriodOf(rec.Date)
		buckets[p] = append(buckets[p], rec)
	}

	periods := make([]models.Period, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	aggregates := make([]models.MarketPeriod, 0, len(periods))
	computed := make(map[models.Period]*models.MarketPeriod, len(periods))
	for _, p := range periods {
		mp := aggregateMarketBucket(vegetableID, p, buckets[p])

		prevAvg, err := a.previousAverage(ctx, vegetableID, p, computed)
		if err != nil {
			return nil, err
		}
		mp.Trend = classifyTrend(mp.AveragePrice, prevAvg, a.cfg.TrendThreshold)

		computed[p] = &mp
		aggregates = append(aggregates, mp)
	}

	existing, err := a.market.MarketPeriodsInRange(ctx, vegetableID, periods[0], periods[len(periods)-1])
	if err != nil {
		return nil, fmt.Errorf("failed to check existing periods: %w", err)
	}
	known := make(map[models.Period]bool, len(existing))
	for _, mp := range existing {
		known[mp.Period] = true
	}

	if err := a.market.ReplaceMarketPeriods(ctx, aggregates); err != nil {
		return nil, err
	}

	report := &AggregationReport{Periods: len(aggregates), Days: len(records)}
	for _, mp := range aggregates {
		if known[mp.Period] {
			report.Updated++
		} else {
			report.Created++
		}
	}

	a.logger.WithFields(logrus.Fields{
		"vegetable_id": vegetableID,
		"from":         from.Format("2006-01-02"),
		"to":           to.Format("2006-01-02"),
		"periods":      report.Periods,
		"created":      report.Created,
		"updated":      report.Updated,
	}).Info("Market aggregation completed")

	return report, nil
}

// AggregateMarketMany runs AggregateMarket for several vegetables.
// The keys are disjoint, so runs proceed in parallel up to the configured
// limit; the first failure cancels the remainder.
func (a *PeriodAggregator) AggregateMarketMany(ctx context.Context, vegetableIDs []int, from, to time.Time) (map[int]*AggregationReport, error) {
	reports := make(map[int]*AggregationReport, len(vegetableIDs))
	results := make([]*AggregationReport, len(vegetableIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxParallelKeys)

	for i, id := range vegetableIDs {
		g.Go(func() error {
			report, err := a.AggregateMarket(gctx, id, from, to)
			if err != nil {
				return fmt.Errorf("vegetable %d: %w", id, err)
			}
			results[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, id := range vegetableIDs {
		reports[id] = results[i]
	}
	return reports, nil
}

// AggregateWeather recomputes the weather aggregates for one region over
// [from, to]. Temperatures and humidity are averaged, precipitation and
// sunshine summed, over the days actually present in each bucket.
func (a *PeriodAggregator) AggregateWeather(ctx context.Context, regionID int, from, to time.Time) (*AggregationReport, error) {
	if from.After(to) {
		return nil, fmt.Errorf("invalid date range: %s after %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	records, err := a.weather.RawWeatherInRange(ctx, regionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw weather: %w", err)
	}
	if len(records) == 0 {
		return &AggregationReport{}, nil
	}

	buckets := make(map[models.Period][]models.RawWeatherRecord)
	for _, rec := range records {
		if rec.RegionID != regionID {
			return nil, fmt.Errorf("%w: record %s belongs to region %d, expected %d",
				ErrInvalidRecord, rec.ID, rec.RegionID, regionID)
		}
		if rec.Date.Before(from) || rec.Date.After(to) {
			return nil, fmt.Errorf("%w: record %s dated %s outside declared range",
				ErrInvalidRecord, rec.ID, rec.Date.Format("2006-01-02"))
		}
		p := models.PeriodOf(rec.Date)
		buckets[p] = append(buckets[p], rec)
	}

	periods := make([]models.Period, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	aggregates := make([]models.WeatherPeriod, 0, len(periods))
	for _, p := range periods {
		aggregates = append(aggregates, aggregateWeatherBucket(regionID, p, buckets[p]))
	}

	if err := a.weather.ReplaceWeatherPeriods(ctx, aggregates); err != nil {
		return nil, err
	}

	report := &AggregationReport{Periods: len(aggregates), Days: len(records)}

	a.logger.WithFields(logrus.Fields{
		"region_id": regionID,
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"periods":   report.Periods,
	}).Info("Weather aggregation completed")

	return report, nil
}

// previousAverage resolves the average price of the period immediately
// before p, preferring a bucket computed in this run over the persisted row.
func (a *PeriodAggregator) previousAverage(ctx context.Context, vegetableID int, p models.Period, computed map[models.Period]*models.MarketPeriod) (*decimal.Decimal, error) {
	prev := p.Prev()
	if mp, ok := computed[prev]; ok {
		return mp.AveragePrice, nil
	}

	mp, err := a.market.GetMarketPeriod(ctx, vegetableID, prev)
	if err != nil {
		return nil, fmt.Errorf("failed to load preceding period %s: %w", prev, err)
	}
	if mp == nil {
		return nil, nil
	}
	return mp.AveragePrice, nil
}

// validatePriceRecord fails fast on invariant violations the ingestion
// boundary should have caught, naming the offending record.
func validatePriceRecord(rec models.RawPriceRecord, vegetableID int, from, to time.Time) error {
	if rec.VegetableID != vegetableID {
		return fmt.Errorf("%w: record %s belongs to vegetable %d, expected %d",
			ErrInvalidRecord, rec.ID, rec.VegetableID, vegetableID)
	}
	if rec.Date.Before(from) || rec.Date.After(to) {
		return fmt.Errorf("%w: record %s dated %s outside declared range",
			ErrInvalidRecord, rec.ID, rec.Date.Format("2006-01-02"))
	}
	if rec.ArrivalVolume != nil && rec.ArrivalVolume.IsNegative() {
		return fmt.Errorf("%w: record %s has negative arrival volume %s",
			ErrInvalidRecord, rec.ID, rec.ArrivalVolume)
	}
	for _, price := range []*decimal.Decimal{rec.HighPrice, rec.MedianPrice, rec.LowPrice, rec.AveragePrice} {
		if price != nil && price.IsNegative() {
			return fmt.Errorf("%w: record %s has negative price %s", ErrInvalidRecord, rec.ID, price)
		}
	}
	return nil
}

// aggregateMarketBucket computes the price summary for one bucket.
// Trend is filled in by the caller, which knows the preceding period.
func aggregateMarketBucket(vegetableID int, p models.Period, records []models.RawPriceRecord) models.MarketPeriod {
	mp := models.MarketPeriod{
		VegetableID: vegetableID,
		Period:      p,
		DayCount:    len(records),
		Trend:       models.TrendStable,
	}

	var medians []decimal.Decimal
	for _, rec := range records {
		if rec.HighPrice != nil && (mp.HighPrice == nil || rec.HighPrice.GreaterThan(*mp.HighPrice)) {
			v := *rec.HighPrice
			mp.HighPrice = &v
		}
		if rec.LowPrice != nil && (mp.LowPrice == nil || rec.LowPrice.LessThan(*mp.LowPrice)) {
			v := *rec.LowPrice
			mp.LowPrice = &v
		}
		if rec.MedianPrice != nil {
			medians = append(medians, *rec.MedianPrice)
		}
		if rec.ArrivalVolume != nil {
			if mp.ArrivalVolume == nil {
				mp.ArrivalVolume = &decimal.Decimal{}
			}
			v := mp.ArrivalVolume.Add(*rec.ArrivalVolume)
			mp.ArrivalVolume = &v
		}
	}

	mp.MedianPrice = medianOf(medians)
	mp.AveragePrice = meanAveragePrice(records)

	return mp
}

// meanAveragePrice is the arithmetic mean of the daily average prices,
// each day weighted equally. Days without a value do not count.
func meanAveragePrice(records []models.RawPriceRecord) *decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, rec := range records {
		if rec.AveragePrice != nil {
			sum = sum.Add(*rec.AveragePrice)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	return &mean
}

// medianOf returns the median of the given values: the middle value for an
// odd count, the mean of the two middle values for an even count.
func medianOf(values []decimal.Decimal) *decimal.Decimal {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		v := sorted[mid]
		return &v
	}
	v := sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	return &v
}

// classifyTrend compares the bucket's average to the preceding period's
// average. A relative change beyond the threshold is rising or falling;
// everything else, including a missing predecessor, is stable.
func classifyTrend(current, previous *decimal.Decimal, threshold float64) string {
	if current == nil || previous == nil || previous.IsZero() {
		return models.TrendStable
	}

	change := current.Sub(*previous).Div(*previous)
	limit := decimal.NewFromFloat(threshold)
	switch {
	case change.GreaterThan(limit):
		return models.TrendRising
	case change.LessThan(limit.Neg()):
		return models.TrendFalling
	default:
		return models.TrendStable
	}
}

// aggregateWeatherBucket computes the weather summary for one bucket.
func aggregateWeatherBucket(regionID int, p models.Period, records []models.RawWeatherRecord) models.WeatherPeriod {
	wp := models.WeatherPeriod{
		RegionID: regionID,
		Period:   p,
		DayCount: len(records),
	}

	wp.MaxTemp = meanOf(records, func(r models.RawWeatherRecord) *float64 { return r.MaxTemp })
	wp.MeanTemp = meanOf(records, func(r models.RawWeatherRecord) *float64 { return r.MeanTemp })
	wp.MinTemp = meanOf(records, func(r models.RawWeatherRecord) *float64 { return r.MinTemp })
	wp.MeanHumidity = meanOf(records, func(r models.RawWeatherRecord) *float64 { return r.MeanHumidity })
	wp.SumPrecipitation = sumOf(records, func(r models.RawWeatherRecord) *float64 { return r.Precipitation })
	wp.SunshineDuration = sumOf(records, func(r models.RawWeatherRecord) *float64 { return r.SunshineDuration })

	return wp
}

// meanOf averages a weather field over the days where it is present.
func meanOf(records []models.RawWeatherRecord, field func(models.RawWeatherRecord) *float64) *float64 {
	sum := 0.0
	n := 0
	for _, rec := range records {
		if v := field(rec); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// sumOf totals a weather field over the days where it is present.
// Missing days do not count as zero: if no day has a value, the sum is nil.
func sumOf(records []models.RawWeatherRecord, field func(models.RawWeatherRecord) *float64) *float64 {
	sum := 0.0
	n := 0
	for _, rec := range records {
		if v := field(rec); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &sum
}
