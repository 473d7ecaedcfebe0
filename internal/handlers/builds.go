// Package handlers exposes the build API: starting, repairing and cancelling
// builds, inspecting project state, and administering provider configs.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"lumen-build/internal/billing"
	"lumen-build/internal/middleware"
	"lumen-build/internal/supervisor"
	"lumen-build/pkg/models"
)

// BuildHandler serves the build lifecycle routes.
type BuildHandler struct {
	db       *gorm.DB
	sup      *supervisor.Supervisor
	registry *supervisor.Registry
	billing  *billing.Recorder
	log      *zap.Logger
}

func NewBuildHandler(db *gorm.DB, sup *supervisor.Supervisor, registry *supervisor.Registry, billing *billing.Recorder, log *zap.Logger) *BuildHandler {
	return &BuildHandler{db: db, sup: sup, registry: registry, billing: billing, log: log}
}

type startBuildRequest struct {
	Request string `json:"request"`
	Resume  bool   `json:"resume"`
}

// StartBuild kicks off generation for a project.
// POST /api/v1/projects/:id/build
func (h *BuildHandler) StartBuild(c *gin.Context) {
	projectID, project, ok := h.ownedProject(c)
	if !ok {
		return
	}

	var req startBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !req.Resume && req.Request == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request text is required"})
		return
	}

	buildID := uuid.New().String()
	ctx, err := h.registry.Begin(context.Background(), projectID, buildID)
	if errors.Is(err, supervisor.ErrBuildInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "a build is already running for this project"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.Request != "" {
		h.db.Model(project).Update("request", req.Request)
		h.db.Create(&models.Message{
			ProjectID: projectID,
			Role:      models.MessageRoleUser,
			Content:   req.Request,
		})
	}

	go func() {
		defer h.registry.Finish(projectID)
		if err := h.sup.Start(ctx, projectID, req.Request, req.Resume); err != nil {
			h.log.Warn("build ended with error",
				zap.Uint("project_id", projectID),
				zap.String("build_id", buildID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"build_id": buildID, "status": models.ProjectStatusGenerating})
}

type repairRequest struct {
	Error string `json:"error" binding:"required"`
}

// RepairBuild runs one caller-invoked repair cycle.
// POST /api/v1/projects/:id/repair
func (h *BuildHandler) RepairBuild(c *gin.Context) {
	projectID, _, ok := h.ownedProject(c)
	if !ok {
		return
	}

	var req repairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	buildID := uuid.New().String()
	ctx, err := h.registry.Begin(context.Background(), projectID, buildID)
	if errors.Is(err, supervisor.ErrBuildInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "a build is already running for this project"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	go func() {
		defer h.registry.Finish(projectID)
		if err := h.sup.Repair(ctx, projectID, req.Error); err != nil {
			h.log.Warn("repair ended with error",
				zap.Uint("project_id", projectID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"build_id": buildID})
}

// CancelBuild aborts the active build, if any.
// POST /api/v1/projects/:id/cancel
func (h *BuildHandler) CancelBuild(c *gin.Context) {
	projectID, _, ok := h.ownedProject(c)
	if !ok {
		return
	}
	if !h.registry.Cancel(projectID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active build"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// BuildStatus returns the project's lifecycle status and current build state.
// GET /api/v1/projects/:id/status
func (h *BuildHandler) BuildStatus(c *gin.Context) {
	projectID, project, ok := h.ownedProject(c)
	if !ok {
		return
	}

	activeBuildID, active := h.registry.Active(projectID)
	spend, err := h.billing.ProjectSpend(c.Request.Context(), projectID)
	if err != nil {
		h.log.Warn("spend lookup failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          project.Status,
		"entry_point":     project.EntryPoint,
		"build_state":     project.BuildState,
		"active":          active,
		"active_build_id": activeBuildID,
		"spend_usd":       spend,
	})
}

// ProjectFiles returns the project's accumulated file set.
// GET /api/v1/projects/:id/files
func (h *BuildHandler) ProjectFiles(c *gin.Context) {
	projectID, _, ok := h.ownedProject(c)
	if !ok {
		return
	}

	var files []models.ProjectFile
	if err := h.db.WithContext(c.Request.Context()).
		Where("project_id = ?", projectID).
		Order("path").
		Find(&files).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

// BuildAudits returns the project's terminal build records, newest first.
// GET /api/v1/projects/:id/audits
func (h *BuildHandler) BuildAudits(c *gin.Context) {
	projectID, _, ok := h.ownedProject(c)
	if !ok {
		return
	}

	var audits []models.BuildAudit
	if err := h.db.WithContext(c.Request.Context()).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(50).
		Find(&audits).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

// ProjectMessages returns the project conversation, oldest first.
// GET /api/v1/projects/:id/messages
func (h *BuildHandler) ProjectMessages(c *gin.Context) {
	projectID, _, ok := h.ownedProject(c)
	if !ok {
		return
	}

	var messages []models.Message
	if err := h.db.WithContext(c.Request.Context()).
		Where("project_id = ?", projectID).
		Order("created_at").
		Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ownedProject parses the path project ID, loads the row and enforces
// ownership against the authenticated user.
func (h *BuildHandler) ownedProject(c *gin.Context) (uint, *models.Project, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, nil, false
	}
	projectID := uint(id)

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, nil, false
	}

	var project models.Project
	err = h.db.WithContext(c.Request.Context()).First(&project, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return 0, nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return 0, nil, false
	}
	if project.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return 0, nil, false
	}
	return projectID, &project, true
}
