package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yasailab/veggiecast/internal/database"
	"github.com/yasailab/veggiecast/internal/models"
)

// ModelStore is the registry surface the HTTP layer needs.
// *database.ModelRegistry implements it.
type ModelStore interface {
	CreateModelKind(ctx context.Context, tagName string, vegetableID int) (*models.ModelKind, error)
	GetModelKind(ctx context.Context, id string) (*models.ModelKind, error)
	GetModelKindByTag(ctx context.Context, tagName string) (*models.ModelKind, error)
	ModelKindsForVegetable(ctx context.Context, vegetableID int) ([]models.ModelKind, error)
	CreateFeatureSet(ctx context.Context, modelKindID string, targetMonth int, variables []models.ForecastVariable) (*models.FeatureSet, error)
	GetFeatureSet(ctx context.Context, id string) (*models.FeatureSet, error)
	RegisterVersion(ctx context.Context, modelKindID string, targetMonth int, featureSetID string, coefs []models.Coefficient) (*models.ModelVersion, error)
	GetVersion(ctx context.Context, id string) (*models.ModelVersion, error)
	ActivateVersion(ctx context.Context, versionID string) error
	DeactivateVersion(ctx context.Context, versionID string) error
	CoefficientsForVersion(ctx context.Context, versionID string) ([]models.Coefficient, error)
	LatestEvaluation(ctx context.Context, versionID string) (*models.Evaluation, error)
	ListEvaluations(ctx context.Context, versionID string) ([]models.Evaluation, error)
}

// RegistryHandler exposes model kind, feature set and version management.
type RegistryHandler struct {
	registry   ModelStore
	vegetables VegetableDirectory
	cache      PredictionCache
}

func NewRegistryHandler(registry ModelStore, vegetables VegetableDirectory, cache PredictionCache) *RegistryHandler {
	return &RegistryHandler{
		registry:   registry,
		vegetables: vegetables,
		cache:      cache,
	}
}

// CreateModelKindRequest registers a model category for a vegetable.
type CreateModelKindRequest struct {
	TagName   string `json:"tag_name" binding:"required"`
	Vegetable string `json:"vegetable" binding:"required"`
}

// CreateModelKind registers a new model kind.
func (h *RegistryHandler) CreateModelKind(c *gin.Context) {
	var req CreateModelKindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
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

	existing, err := h.registry.GetModelKindByTag(c.Request.Context(), req.TagName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check tag name"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Model kind tag already exists: " + req.TagName})
		return
	}

	kind, err := h.registry.CreateModelKind(c.Request.Context(), req.TagName, veg.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create model kind"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"model_kind": kind})
}

// ListModelKinds returns the model kinds registered for a vegetable.
func (h *RegistryHandler) ListModelKinds(c *gin.Context) {
	name := c.Query("vegetable")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vegetable query parameter is required"})
		return
	}

	veg, err := h.vegetables.GetVegetableByName(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up vegetable"})
		return
	}
	if veg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown vegetable: " + name})
		return
	}

	kinds, err := h.registry.ModelKindsForVegetable(c.Request.Context(), veg.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list model kinds"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"model_kinds": kinds, "total": len(kinds)})
}

// CreateFeatureSetRequest declares a feature set for a model kind.
type CreateFeatureSetRequest struct {
	ModelKindID string                    `json:"model_kind_id" binding:"required"`
	TargetMonth int                       `json:"target_month"`
	Variables   []models.ForecastVariable `json:"variables" binding:"required,min=1"`
}

// CreateFeatureSet stores a new feature set.
func (h *RegistryHandler) CreateFeatureSet(c *gin.Context) {
	var req CreateFeatureSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	kind, err := h.registry.GetModelKind(c.Request.Context(), req.ModelKindID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up model kind"})
		return
	}
	if kind == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown model kind: " + req.ModelKindID})
		return
	}

	for _, v := range req.Variables {
		if !models.WeatherVariables[v.Name] && !models.MarketVariables[v.Name] && v.Name != models.VarConst {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown variable name: " + v.Name})
			return
		}
		if v.Lag < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Negative lag for variable: " + v.Name})
			return
		}
	}

	fs, err := h.registry.CreateFeatureSet(c.Request.Context(), req.ModelKindID, req.TargetMonth, req.Variables)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to create feature set: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"feature_set": fs})
}

// GetFeatureSet returns a feature set with its variables.
func (h *RegistryHandler) GetFeatureSet(c *gin.Context) {
	fs, err := h.registry.GetFeatureSet(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load feature set"})
		return
	}
	if fs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feature set not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feature_set": fs})
}

// RegisterVersionRequest registers a new model version with its
// coefficients. Versions start inactive.
type RegisterVersionRequest struct {
	ModelKindID  string               `json:"model_kind_id" binding:"required"`
	TargetMonth  int                  `json:"target_month"`
	FeatureSetID string               `json:"feature_set_id" binding:"required"`
	Coefficients []models.Coefficient `json:"coefficients" binding:"required,min=1"`
}

// RegisterVersion stores a new inactive model version.
func (h *RegistryHandler) RegisterVersion(c *gin.Context) {
	var req RegisterVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	version, err := h.registry.RegisterVersion(c.Request.Context(), req.ModelKindID, req.TargetMonth, req.FeatureSetID, req.Coefficients)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrCoefficientMismatch):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, database.ErrFeatureSetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Feature set not found: " + req.FeatureSetID})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register version"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"model_version": version})
}

// GetVersion returns a model version with its coefficients and latest
// evaluation.
func (h *RegistryHandler) GetVersion(c *gin.Context) {
	version, err := h.registry.GetVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load model version"})
		return
	}

	coefs, err := h.registry.CoefficientsForVersion(c.Request.Context(), version.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load coefficients"})
		return
	}

	eval, err := h.registry.LatestEvaluation(c.Request.Context(), version.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load latest evaluation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_version":     version,
		"coefficients":      coefs,
		"latest_evaluation": eval,
	})
}

// ActivateVersion makes a version the active one for its
// (model kind, target month) key and invalidates cached predictions for
// the affected vegetable.
func (h *RegistryHandler) ActivateVersion(c *gin.Context) {
	versionID := c.Param("id")

	if err := h.registry.ActivateVersion(c.Request.Context(), versionID); err != nil {
		if errors.Is(err, database.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to activate version"})
		return
	}

	h.invalidatePredictions(c.Request.Context(), versionID)

	c.JSON(http.StatusOK, gin.H{"model_version_id": versionID, "active": true})
}

// DeactivateVersion clears a version's active flag. The key is left
// without forecasting capability until another version is activated.
func (h *RegistryHandler) DeactivateVersion(c *gin.Context) {
	versionID := c.Param("id")

	if err := h.registry.DeactivateVersion(c.Request.Context(), versionID); err != nil {
		if errors.Is(err, database.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate version"})
		return
	}

	h.invalidatePredictions(c.Request.Context(), versionID)

	c.JSON(http.StatusOK, gin.H{"model_version_id": versionID, "active": false})
}

// ListEvaluations returns a version's evaluation history, newest first.
func (h *RegistryHandler) ListEvaluations(c *gin.Context) {
	versionID := c.Param("id")

	if _, err := h.registry.GetVersion(c.Request.Context(), versionID); err != nil {
		if errors.Is(err, database.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load model version"})
		return
	}

	evals, err := h.registry.ListEvaluations(c.Request.Context(), versionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load evaluations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"evaluations": evals, "total": len(evals)})
}

// invalidatePredictions drops cached predictions for the vegetable behind
// a version's model kind. Cache failures are logged, never surfaced: the
// next read recomputes anyway.
func (h *RegistryHandler) invalidatePredictions(ctx context.Context, versionID string) {
	if h.cache == nil {
		return
	}

	version, err := h.registry.GetVersion(ctx, versionID)
	if err != nil || version == nil {
		return
	}
	kind, err := h.registry.GetModelKind(ctx, version.ModelKindID)
	if err != nil || kind == nil {
		return
	}
	if err := h.cache.InvalidateVegetable(ctx, kind.VegetableID); err != nil {
		log.Printf("Failed to invalidate prediction cache for vegetable %d: %v", kind.VegetableID, err)
	}
}
