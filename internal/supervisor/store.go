package supervisor

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lumen-build/pkg/models"
)

// ProjectStore is the persistence surface the pipeline needs. Production uses
// the GORM store; supervisor tests use an in-memory fake.
type ProjectStore interface {
	// Load returns the project with its files preloaded.
	Load(ctx context.Context, projectID uint) (*models.Project, error)
	SetStatus(ctx context.Context, projectID uint, status string) error
	SetName(ctx context.Context, projectID uint, name string) error
	SetEntryPoint(ctx context.Context, projectID uint, path string) error
	SaveBuildState(ctx context.Context, projectID uint, state *models.BuildState) error

	// SaveFile upserts one file by (project, path).
	SaveFile(ctx context.Context, projectID uint, path, content string) error

	// UpsertMessage writes a message, updating in place when logicalKey
	// matches an existing row, and returns the persisted record.
	UpsertMessage(ctx context.Context, projectID uint, logicalKey, role, content string, actionRequired bool) (*models.Message, error)

	SaveAudit(ctx context.Context, audit *models.BuildAudit) error
}

// GormStore is the production ProjectStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context, projectID uint) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).
		Preload("Files").
		First(&project, projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %d not found", projectID)
		}
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}
	return &project, nil
}

func (s *GormStore) SetStatus(ctx context.Context, projectID uint, status string) error {
	return s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("status", status).Error
}

func (s *GormStore) SetName(ctx context.Context, projectID uint, name string) error {
	return s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("name", name).Error
}

func (s *GormStore) SetEntryPoint(ctx context.Context, projectID uint, path string) error {
	return s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("entry_point", path).Error
}

func (s *GormStore) SaveBuildState(ctx context.Context, projectID uint, state *models.BuildState) error {
	return s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("build_state", state).Error
}

func (s *GormStore) SaveFile(ctx context.Context, projectID uint, path, content string) error {
	file := models.ProjectFile{
		ProjectID: projectID,
		Path:      path,
		Content:   content,
		Kind:      models.FileKindFile,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&file).Error
}

func (s *GormStore) UpsertMessage(ctx context.Context, projectID uint, logicalKey, role, content string, actionRequired bool) (*models.Message, error) {
	msg := models.Message{
		ProjectID:      projectID,
		Role:           role,
		Content:        content,
		LogicalKey:     logicalKey,
		ActionRequired: actionRequired,
	}

	if logicalKey == "" {
		if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var existing models.Message
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND logical_key = ?", projectID, logicalKey).
		First(&existing).Error
	switch {
	case err == nil:
		existing.Content = content
		existing.ActionRequired = actionRequired
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, err
	}
}

func (s *GormStore) SaveAudit(ctx context.Context, audit *models.BuildAudit) error {
	return s.db.WithContext(ctx).Create(audit).Error
}
