// Package billing persists per-call AI usage for the billing system. Ledger
// math (credits, invoicing) lives outside this service; the recorder's job is
// an accurate row per provider call that actually executed.
package billing

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"lumen-build/internal/ai"
	"lumen-build/internal/logging"
	"lumen-build/pkg/models"
)

// Recorder writes AIUsageRecord rows. Implements ai.UsageRecorder.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRecorder creates a usage recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, log: logging.Named("billing")}
}

// Record implements ai.UsageRecorder. Failures are logged, never propagated:
// a billing write must not fail a build.
func (r *Recorder) Record(ctx context.Context, userID, projectID uint, operation string, usage ai.Usage, duration time.Duration) {
	rec := &models.AIUsageRecord{
		UserID:           userID,
		ProjectID:        projectID,
		Provider:         usage.Provider,
		Model:            usage.Model,
		Operation:        operation,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          usage.CostUSD,
		DurationMs:       duration.Milliseconds(),
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		r.log.Error("failed to persist usage record",
			zap.String("operation", operation),
			zap.String("provider", usage.Provider),
			zap.Error(err))
	}
}

// ProjectSpend sums recorded cost for one project.
func (r *Recorder) ProjectSpend(ctx context.Context, projectID uint) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&models.AIUsageRecord{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(SUM(cost_usd), 0)").
		Scan(&total).Error
	return total, err
}
