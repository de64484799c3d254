package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yasailab/veggiecast/internal/services"
)

type stubAggregator struct {
	report *services.AggregationReport
	err    error

	lastVegetableID int
	lastRegionID    int
	lastFrom        time.Time
	lastTo          time.Time
}

func (s *stubAggregator) AggregateMarket(_ context.Context, vegetableID int, from, to time.Time) (*services.AggregationReport, error) {
	s.lastVegetableID = vegetableID
	s.lastFrom = from
	s.lastTo = to
	return s.report, s.err
}

func (s *stubAggregator) AggregateMarketMany(_ context.Context, vegetableIDs []int, from, to time.Time) (map[int]*services.AggregationReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int]*services.AggregationReport, len(vegetableIDs))
	for _, id := range vegetableIDs {
		out[id] = s.report
	}
	return out, nil
}

func (s *stubAggregator) AggregateWeather(_ context.Context, regionID int, from, to time.Time) (*services.AggregationReport, error) {
	s.lastRegionID = regionID
	s.lastFrom = from
	s.lastTo = to
	return s.report, s.err
}

func aggregationRouter(agg Aggregator) *gin.Engine {
	dir := newStubDirectory()
	handler := NewAggregationHandler(agg, dir, dir)
	router := gin.New()
	router.POST("/aggregate/market", handler.AggregateMarket)
	router.POST("/aggregate/weather", handler.AggregateWeather)
	router.GET("/periods/market/:vegetable", handler.GetMarketPeriods)
	router.DELETE("/periods/market/:vegetable", handler.DeleteMarketPeriods)
	return router
}

func TestAggregationHandler_AggregateMarket(t *testing.T) {
	agg := &stubAggregator{report: &services.AggregationReport{Periods: 2, Created: 1, Updated: 1, Days: 20}}
	router := aggregationRouter(agg)

	payload := `{"vegetable":"cabbage","from":"2024-01-01","to":"2024-01-31"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/aggregate/market", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, agg.lastVegetableID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), agg.lastFrom)

	var body struct {
		Vegetable string                      `json:"vegetable"`
		Report    services.AggregationReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cabbage", body.Vegetable)
	assert.Equal(t, 2, body.Report.Periods)
}

func TestAggregationHandler_AggregateMarket_UnknownVegetable(t *testing.T) {
	router := aggregationRouter(&stubAggregator{report: &services.AggregationReport{}})

	payload := `{"vegetable":"durian","from":"2024-01-01","to":"2024-01-31"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/aggregate/market", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAggregationHandler_AggregateMarket_InvalidDates(t *testing.T) {
	router := aggregationRouter(&stubAggregator{report: &services.AggregationReport{}})

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed date", `{"vegetable":"cabbage","from":"January 1","to":"2024-01-31"}`},
		{"reversed range", `{"vegetable":"cabbage","from":"2024-02-01","to":"2024-01-01"}`},
		{"missing fields", `{"vegetable":"cabbage"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/aggregate/market", strings.NewReader(tt.payload))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAggregationHandler_AggregateMarket_InvalidRecord(t *testing.T) {
	agg := &stubAggregator{err: services.ErrInvalidRecord}
	router := aggregationRouter(agg)

	payload := `{"vegetable":"cabbage","from":"2024-01-01","to":"2024-01-31"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/aggregate/market", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAggregationHandler_AggregateWeather(t *testing.T) {
	agg := &stubAggregator{report: &services.AggregationReport{Periods: 1, Days: 15}}
	router := aggregationRouter(agg)

	payload := `{"region":"hiroshima","from":"2024-01-01","to":"2024-01-15"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/aggregate/weather", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, agg.lastRegionID)
}

func TestAggregationHandler_GetMarketPeriods_BadRange(t *testing.T) {
	router := aggregationRouter(&stubAggregator{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/periods/market/cabbage?from=2024-02/first&to=2024-01/first", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAggregationHandler_DeleteMarketPeriods(t *testing.T) {
	router := aggregationRouter(&stubAggregator{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/periods/market/cabbage?from=2024-01/first&to=2024-02/second", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
