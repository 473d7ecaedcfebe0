package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"lumen-build/internal/ai"
	"lumen-build/pkg/models"
)

// ProviderHandler administers stored provider configurations. All routes
// require admin.
type ProviderHandler struct {
	configs *ai.ConfigStore
	log     *zap.Logger
}

func NewProviderHandler(configs *ai.ConfigStore, log *zap.Logger) *ProviderHandler {
	return &ProviderHandler{configs: configs, log: log}
}

// ListProviders returns every stored configuration. API keys stay encrypted;
// only their presence is reported.
// GET /api/v1/providers
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	configs, err := h.configs.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, gin.H{
			"id":              cfg.ID,
			"name":            cfg.Name,
			"provider":        cfg.Provider,
			"model":           cfg.Model,
			"is_active":       cfg.IsActive,
			"is_fallback":     cfg.IsFallback,
			"has_credentials": cfg.HasCredentials(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

type saveProviderRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider" binding:"required"`
	Model    string `json:"model" binding:"required"`
	APIKey   string `json:"api_key"`
}

// SaveProvider stores a configuration, encrypting the key at rest.
// POST /api/v1/providers
func (h *ProviderHandler) SaveProvider(c *gin.Context) {
	var req saveProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	switch req.Provider {
	case ai.ProviderClaude, ai.ProviderOpenAI, ai.ProviderGemini:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider", "provider": req.Provider})
		return
	}

	name := req.Name
	if name == "" {
		name = req.Provider + "/" + req.Model
	}
	cfg := &models.AIProviderConfig{Name: name, Provider: req.Provider, Model: req.Model}
	if err := h.configs.Save(c.Request.Context(), cfg, req.APIKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.log.Info("provider configuration saved",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))
	c.JSON(http.StatusCreated, gin.H{"id": cfg.ID})
}

// ActivateProvider promotes a configuration to the active slot. The previous
// active config becomes the fallback; any older fallback is cleared.
// POST /api/v1/providers/:id/activate
func (h *ProviderHandler) ActivateProvider(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider id"})
		return
	}

	if err := h.configs.Activate(c.Request.Context(), uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider config not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": id})
}
