package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yasailab/veggiecast/internal/models"
	"github.com/yasailab/veggiecast/internal/services"
)

// VegetableDirectory resolves vegetable references and reads market
// aggregates for the read endpoints.
type VegetableDirectory interface {
	GetVegetableByName(ctx context.Context, name string) (*models.Vegetable, error)
	MarketPeriodsInRange(ctx context.Context, vegetableID int, first, last models.Period) ([]models.MarketPeriod, error)
	DeleteMarketPeriods(ctx context.Context, vegetableID int, first, last models.Period) (int64, error)
}

// RegionDirectory resolves region references and reads weather aggregates.
type RegionDirectory interface {
	GetRegionByName(ctx context.Context, name string) (*models.Region, error)
	WeatherPeriodsInRange(ctx context.Context, regionID int, first, last models.Period) ([]models.WeatherPeriod, error)
	DeleteWeatherPeriods(ctx context.Context, regionID int, first, last models.Period) (int64, error)
}

// Aggregator runs the period aggregation engine.
type Aggregator interface {
	AggregateMarket(ctx context.Context, vegetableID int, from, to time.Time) (*services.AggregationReport, error)
	AggregateMarketMany(ctx context.Context, vegetableIDs []int, from, to time.Time) (map[int]*services.AggregationReport, error)
	AggregateWeather(ctx context.Context, regionID int, from, to time.Time) (*services.AggregationReport, error)
}

// AggregationHandler exposes the aggregation engine and the aggregate read
// and reset endpoints.
type AggregationHandler struct {
	aggregator Aggregator
	vegetables VegetableDirectory
	regions    RegionDirectory
}

func NewAggregationHandler(aggregator Aggregator, vegetables VegetableDirectory, regions RegionDirectory) *AggregationHandler {
	return &AggregationHandler{
		aggregator: aggregator,
		vegetables: vegetables,
		regions:    regions,
	}
}

// AggregateMarketRequest asks for a market aggregation run.
type AggregateMarketRequest struct {
	Vegetable string `json:"vegetable" binding:"required"`
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
}

// AggregateMarketBatchRequest asks for parallel runs over several vegetables.
type AggregateMarketBatchRequest struct {
	Vegetables []string `json:"vegetables" binding:"required,min=1"`
	From       string   `json:"from" binding:"required"`
	To         string   `json:"to" binding:"required"`
}

// AggregateWeatherRequest asks for a weather aggregation run.
type AggregateWeatherRequest struct {
	Region string `json:"region" binding:"required"`
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
}

// AggregateMarket recomputes semi-month market aggregates for one vegetable.
func (h *AggregationHandler) AggregateMarket(c *gin.Context) {
	var req AggregateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	from, to, ok := parseDateRange(c, req.From, req.To)
	if !ok {
		return
	}

	veg, err := h.vegetables.GetVegetableByName(c.Request.Context(), req.Vegetable)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up vegetable"})
		return
	}
	if veg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown vegetable: " + req.Vegetable})
		return
	}

	report, err := h.aggregator.AggregateMarket(c.Request.Context(), veg.ID, from, to)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRecord) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Aggregation failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vegetable": veg.Name,
		"report":    report,
	})
}

// AggregateMarketBatch recomputes aggregates for several vegetables in
// parallel.
func (h *AggregationHandler) AggregateMarketBatch(c *gin.Context) {
	var req AggregateMarketBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	from, to, ok := parseDateRange(c, req.From, req.To)
	if !ok {
		return
	}

	ids := make([]int, 0, len(req.Vegetables))
	names := make(map[int]string, len(req.Vegetables))
	for _, name := range req.Vegetables {
		veg, err := h.vegetables.GetVegetableByName(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up vegetable"})
			return
		}
		if veg == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown vegetable: " + name})
			return
		}
		ids = append(ids, veg.ID)
		names[veg.ID] = veg.Name
	}

	reports, err := h.aggregator.AggregateMarketMany(c.Request.Context(), ids, from, to)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRecord) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Aggregation failed: " + err.Error()})
		return
	}

	byName := make(map[string]*services.AggregationReport, len(reports))
	for id, report := range reports {
		byName[names[id]] = report
	}

	c.JSON(http.StatusOK, gin.H{"reports": byName})
}

// AggregateWeather recomputes semi-month weather aggregates for one region.
func (h *AggregationHandler) AggregateWeather(c *gin.Context) {
	var req AggregateWeatherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	from, to, ok := parseDateRange(c, req.From, req.To)
	if !ok {
		return
	}

	region, err := h.regions.GetRegionByName(c.Request.Context(), req.Region)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up region"})
		return
	}
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown region: " + req.Region})
		return
	}

	report, err := h.aggregator.AggregateWeather(c.Request.Context(), region.ID, from, to)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRecord) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Aggregation failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"region": region.Name,
		"report": report,
	})
}

// GetMarketPeriods returns market aggregates for a vegetable over a period
// range.
func (h *AggregationHandler) GetMarketPeriods(c *gin.Context) {
	veg, ok := h.resolveVegetable(c)
	if !ok {
		return
	}

	first, last, ok := parsePeriodRange(c)
	if !ok {
		return
	}

	periods, err := h.vegetables.MarketPeriodsInRange(c.Request.Context(), veg.ID, first, last)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load market periods"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vegetable": veg.Name,
		"periods":   periods,
		"total":     len(periods),
	})
}

// GetWeatherPeriods returns weather aggregates for a region over a period
// range.
func (h *AggregationHandler) GetWeatherPeriods(c *gin.Context) {
	region, ok := h.resolveRegion(c)
	if !ok {
		return
	}

	first, last, ok := parsePeriodRange(c)
	if !ok {
		return
	}

	periods, err := h.regions.WeatherPeriodsInRange(c.Request.Context(), region.ID, first, last)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load weather periods"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"region":  region.Name,
		"periods": periods,
		"total":   len(periods),
	})
}

// DeleteMarketPeriods removes a vegetable's aggregates in a period range.
// Raw records are untouched; a later aggregation run rebuilds the buckets.
func (h *AggregationHandler) DeleteMarketPeriods(c *gin.Context) {
	veg, ok := h.resolveVegetable(c)
	if !ok {
		return
	}

	first, last, ok := parsePeriodRange(c)
	if !ok {
		return
	}

	deleted, err := h.vegetables.DeleteMarketPeriods(c.Request.Context(), veg.ID, first, last)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete market periods"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vegetable": veg.Name,
		"deleted":   deleted,
	})
}

// DeleteWeatherPeriods removes a region's aggregates in a period range.
func (h *AggregationHandler) DeleteWeatherPeriods(c *gin.Context) {
	region, ok := h.resolveRegion(c)
	if !ok {
		return
	}

	first, last, ok := parsePeriodRange(c)
	if !ok {
		return
	}

	deleted, err := h.regions.DeleteWeatherPeriods(c.Request.Context(), region.ID, first, last)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete weather periods"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"region":  region.Name,
		"deleted": deleted,
	})
}

func (h *AggregationHandler) resolveVegetable(c *gin.Context) (*models.Vegetable, bool) {
	name := c.Param("vegetable")
	veg, err := h.vegetables.GetVegetableByName(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up vegetable"})
		return nil, false
	}
	if veg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown vegetable: " + name})
		return nil, false
	}
	return veg, true
}

func (h *AggregationHandler) resolveRegion(c *gin.Context) (*models.Region, bool) {
	name := c.Param("region")
	region, err := h.regions.GetRegionByName(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up region"})
		return nil, false
	}
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown region: " + name})
		return nil, false
	}
	return region, true
}

// parseDateRange parses "from"/"to" calendar dates and writes the error
// response itself on failure.
func parseDateRange(c *gin.Context, fromStr, toStr string) (time.Time, time.Time, bool) {
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date, want YYYY-MM-DD: " + fromStr})
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date, want YYYY-MM-DD: " + toStr})
		return time.Time{}, time.Time{}, false
	}
	if from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from date is after to date"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// parsePeriodRange parses the "from"/"to" period query parameters.
func parsePeriodRange(c *gin.Context) (models.Period, models.Period, bool) {
	first, err := models.ParsePeriod(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Period{}, models.Period{}, false
	}
	last, err := models.ParsePeriod(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Period{}, models.Period{}, false
	}
	if first.After(last) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from period is after to period"})
		return models.Period{}, models.Period{}, false
	}
	return first, last, true
}
