package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"lumen-build/internal/cache"
	"lumen-build/pkg/models"
)

// PreviewHandler serves project snapshots to the preview surface. The hot
// path reads the cache written during builds; a miss falls back to the
// database and repopulates it.
type PreviewHandler struct {
	db        *gorm.DB
	snapshots *cache.SnapshotCache
	log       *zap.Logger
}

func NewPreviewHandler(db *gorm.DB, snapshots *cache.SnapshotCache, log *zap.Logger) *PreviewHandler {
	return &PreviewHandler{db: db, snapshots: snapshots, log: log}
}

// Snapshot returns the project's current files and entry point.
// GET /api/preview/:id
func (h *PreviewHandler) Snapshot(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	projectID := uint(id)

	snap, err := h.snapshots.Get(c.Request.Context(), projectID)
	if err != nil {
		if !errors.Is(err, cache.ErrSnapshotNotFound) {
			h.log.Warn("snapshot cache read failed", zap.Error(err))
		}
		snap, err = h.loadSnapshot(c.Request.Context(), projectID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		if putErr := h.snapshots.Put(c.Request.Context(), snap); putErr != nil {
			h.log.Warn("snapshot cache write failed", zap.Error(putErr))
		}
	}

	c.JSON(http.StatusOK, snap)
}

func (h *PreviewHandler) loadSnapshot(ctx context.Context, projectID uint) (*cache.Snapshot, error) {
	var project models.Project
	if err := h.db.WithContext(ctx).Preload("Files").First(&project, projectID).Error; err != nil {
		return nil, err
	}

	files := make(map[string]string, len(project.Files))
	for _, f := range project.Files {
		if f.Kind == models.FileKindFolder {
			continue
		}
		files[f.Path] = f.Content
	}
	return &cache.Snapshot{
		ProjectID:  projectID,
		EntryPoint: project.EntryPoint,
		Files:      files,
	}, nil
}
