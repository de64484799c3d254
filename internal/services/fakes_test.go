package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yasailab/veggiecast/internal/models"
)

// In-memory store fakes shared by the service tests.

type fakeMarketStore struct {
	mu      sync.Mutex
	raw     []models.RawPriceRecord
	periods map[int]map[models.Period]models.MarketPeriod

	replaceCalls int
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{periods: make(map[int]map[models.Period]models.MarketPeriod)}
}

func (s *fakeMarketStore) RawPricesInRange(_ context.Context, vegetableID int, from, to time.Time) ([]models.RawPriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RawPriceRecord
	for _, rec := range s.raw {
		if rec.VegetableID == vegetableID && !rec.Date.Before(from) && !rec.Date.After(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) GetMarketPeriod(_ context.Context, vegetableID int, period models.Period) (*models.MarketPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mp, ok := s.periods[vegetableID][period]; ok {
		out := mp
		return &out, nil
	}
	return nil, nil
}

func (s *fakeMarketStore) MarketPeriodsInRange(_ context.Context, vegetableID int, first, last models.Period) ([]models.MarketPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MarketPeriod
	for _, p := range models.PeriodsBetween(first, last) {
		if mp, ok := s.periods[vegetableID][p]; ok {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) ReplaceMarketPeriods(_ context.Context, periods []models.MarketPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	for _, mp := range periods {
		if s.periods[mp.VegetableID] == nil {
			s.periods[mp.VegetableID] = make(map[models.Period]models.MarketPeriod)
		}
		s.periods[mp.VegetableID][mp.Period] = mp
	}
	return nil
}

func (s *fakeMarketStore) setPeriod(mp models.MarketPeriod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.periods[mp.VegetableID] == nil {
		s.periods[mp.VegetableID] = make(map[models.Period]models.MarketPeriod)
	}
	s.periods[mp.VegetableID][mp.Period] = mp
}

type fakeWeatherStore struct {
	raw     []models.RawWeatherRecord
	periods map[int]map[models.Period]models.WeatherPeriod
}

func newFakeWeatherStore() *fakeWeatherStore {
	return &fakeWeatherStore{periods: make(map[int]map[models.Period]models.WeatherPeriod)}
}

func (s *fakeWeatherStore) RawWeatherInRange(_ context.Context, regionID int, from, to time.Time) ([]models.RawWeatherRecord, error) {
	var out []models.RawWeatherRecord
	for _, rec := range s.raw {
		if rec.RegionID == regionID && !rec.Date.Before(from) && !rec.Date.After(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeWeatherStore) GetWeatherPeriod(_ context.Context, regionID int, period models.Period) (*models.WeatherPeriod, error) {
	if wp, ok := s.periods[regionID][period]; ok {
		out := wp
		return &out, nil
	}
	return nil, nil
}

func (s *fakeWeatherStore) ReplaceWeatherPeriods(_ context.Context, periods []models.WeatherPeriod) error {
	for _, wp := range periods {
		if s.periods[wp.RegionID] == nil {
			s.periods[wp.RegionID] = make(map[models.Period]models.WeatherPeriod)
		}
		s.periods[wp.RegionID][wp.Period] = wp
	}
	return nil
}

func (s *fakeWeatherStore) setPeriod(wp models.WeatherPeriod) {
	if s.periods[wp.RegionID] == nil {
		s.periods[wp.RegionID] = make(map[models.Period]models.WeatherPeriod)
	}
	s.periods[wp.RegionID][wp.Period] = wp
}

type fakeRegistry struct {
	versions    map[string]*models.ModelVersion
	featureSets map[string]*models.FeatureSet
	coefs       map[string][]models.Coefficient
	evals       map[string][]models.Evaluation
	// activeFor maps vegetableID to the version resolved per target month.
	activeFor map[int]map[int]*models.ModelVersion
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		versions:    make(map[string]*models.ModelVersion),
		featureSets: make(map[string]*models.FeatureSet),
		coefs:       make(map[string][]models.Coefficient),
		evals:       make(map[string][]models.Evaluation),
		activeFor:   make(map[int]map[int]*models.ModelVersion),
	}
}

func (r *fakeRegistry) setActive(vegetableID, targetMonth int, v *models.ModelVersion) {
	if r.activeFor[vegetableID] == nil {
		r.activeFor[vegetableID] = make(map[int]*models.ModelVersion)
	}
	r.activeFor[vegetableID][targetMonth] = v
}

func (r *fakeRegistry) ActiveVersionForVegetable(_ context.Context, vegetableID, targetMonth int) (*models.ModelVersion, error) {
	byMonth := r.activeFor[vegetableID]
	if byMonth == nil {
		return nil, nil
	}
	if v, ok := byMonth[targetMonth]; ok {
		return v, nil
	}
	return byMonth[models.AnyMonth], nil
}

func (r *fakeRegistry) GetVersion(_ context.Context, id string) (*models.ModelVersion, error) {
	return r.versions[id], nil
}

func (r *fakeRegistry) GetFeatureSet(_ context.Context, id string) (*models.FeatureSet, error) {
	return r.featureSets[id], nil
}

func (r *fakeRegistry) CoefficientsForVersion(_ context.Context, versionID string) ([]models.Coefficient, error) {
	return r.coefs[versionID], nil
}

func (r *fakeRegistry) LatestEvaluation(_ context.Context, versionID string) (*models.Evaluation, error) {
	evals := r.evals[versionID]
	if len(evals) == 0 {
		return nil, nil
	}
	out := evals[len(evals)-1]
	return &out, nil
}

func (r *fakeRegistry) AppendEvaluation(_ context.Context, eval models.Evaluation) (*models.Evaluation, error) {
	eval.ID = "eval-fake"
	eval.EvaluatedAt = time.Now()
	r.evals[eval.ModelVersionID] = append(r.evals[eval.ModelVersionID], eval)
	return &eval, nil
}

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func f64(v float64) *float64 {
	return &v
}
