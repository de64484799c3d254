package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yasailab/veggiecast/internal/models"
	"github.com/yasailab/veggiecast/internal/services"
)

// Forecaster produces point predictions with confidence bounds.
type Forecaster interface {
	Predict(ctx context.Context, vegetableID, regionID int, target models.Period) (*models.Prediction, error)
}

// Evaluator replays a model version over history and records the fit.
type Evaluator interface {
	Evaluate(ctx context.Context, versionID string, vegetableID, regionID int, first, last models.Period) (*models.Evaluation, error)
}

// PredictionCache is the read-through cache in front of the forecast engine.
type PredictionCache interface {
	Get(ctx context.Context, vegetableID int, period models.Period) (*models.Prediction, bool)
	Set(ctx context.Context, prediction *models.Prediction)
	InvalidateVegetable(ctx context.Context, vegetableID int) error
}

// ForecastHandler serves forecasts and evaluation runs.
type ForecastHandler struct {
	forecaster    Forecaster
	evaluator     Evaluator
	cache         PredictionCache
	vegetables    VegetableDirectory
	regions       RegionDirectory
	defaultRegion string
}

func NewForecastHandler(forecaster Forecaster, evaluator Evaluator, cache PredictionCache, vegetables VegetableDirectory, regions RegionDirectory, defaultRegion string) *ForecastHandler {
	return &ForecastHandler{
		forecaster:    forecaster,
		evaluator:     evaluator,
		cache:         cache,
		vegetables:    vegetables,
		regions:       regions,
		defaultRegion: defaultRegion,
	}
}

// GetForecast predicts the average price for one (vegetable, period)
// target. The region for weather features defaults to the configured
// region and can be overridden per request.
func (h *ForecastHandler) GetForecast(c *gin.Context) {
	veg, ok := h.resolveVegetable(c)
	if !ok {
		return
	}

	target, err := models.ParsePeriod(c.Query("period"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	region, ok := h.resolveRegionQuery(c)
	if !ok {
		return
	}

	if h.cache != nil {
		if cached, hit := h.cache.Get(c.Request.Context(), veg.ID, target); hit {
			c.JSON(http.StatusOK, gin.H{"prediction": cached, "cached": true})
			return
		}
	}

	prediction, err := h.forecaster.Predict(c.Request.Context(), veg.ID, region.ID, target)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoActiveModel):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrFeatureUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrModelIntegrity):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Forecast failed: " + err.Error()})
		}
		return
	}

	if h.cache != nil {
		h.cache.Set(c.Request.Context(), prediction)
	}

	c.JSON(http.StatusOK, gin.H{"prediction": prediction, "cached": false})
}

// EvaluateRequest asks for an evaluation run of one model version.
type EvaluateRequest struct {
	Vegetable string `json:"vegetable" binding:"required"`
	Region    string `json:"region"`
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
}

// Evaluate replays a model version over a historical period range and
// appends the resulting evaluation.
func (h *ForecastHandler) Evaluate(c *gin.Context) {
	versionID := c.Param("id")

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	first, err := models.ParsePeriod(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	last, err := models.ParsePeriod(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
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

	regionName := req.Region
	if regionName == "" {
		regionName = h.defaultRegion
	}
	region, err := h.regions.GetRegionByName(c.Request.Context(), regionName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up region"})
		return
	}
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown region: " + regionName})
		return
	}

	eval, err := h.evaluator.Evaluate(c.Request.Context(), versionID, veg.ID, region.ID, first, last)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoAggregatedData):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrModelIntegrity):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Evaluation failed: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"evaluation": eval})
}

func (h *ForecastHandler) resolveVegetable(c *gin.Context) (*models.Vegetable, bool) {
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

func (h *ForecastHandler) resolveRegionQuery(c *gin.Context) (*models.Region, bool) {
	name := c.Query("region")
	if name == "" {
		name = h.defaultRegion
	}
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
