// Package prompts resolves versioned system instructions for each pipeline
// stage from the configuration store. There is deliberately no built-in
// fallback text: a missing instruction is a deployment defect and fails hard.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"lumen-build/pkg/models"
)

// Stage keys for every LLM-backed pipeline stage.
const (
	StageClassify     = "classify"
	StageDesign       = "design"
	StageRequirements = "requirements"
	StagePhasePlan    = "phase_plan"
	StageStepPlan     = "step_plan"
	StageBuildStep    = "build_step"
	StageRepair       = "repair"
	StageTitle        = "title"
)

// ErrMissingConfiguration means a required stage has no registered
// instruction. Never retried: fix the deployment, not the run.
var ErrMissingConfiguration = errors.New("missing prompt configuration")

// Store fetches raw instruction rows. The GORM implementation below is the
// production store; tests use fakes.
type Store interface {
	Instruction(ctx context.Context, stageKey string) (string, error)
}

// Cache is an explicit get-or-resolve cache constructed per process or run
// and passed to the resolver. It has no invalidation; a fresh process
// re-resolves from the store.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewCache creates an empty prompt cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

func (c *Cache) get(stageKey string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[stageKey]
	return v, ok
}

func (c *Cache) put(stageKey, instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stageKey] = instruction
}

// Resolver resolves stage instructions through the cache.
type Resolver struct {
	store Store
	cache *Cache
}

// NewResolver creates a resolver over a store and an explicitly owned cache.
func NewResolver(store Store, cache *Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the system instruction for a stage, caching the result for
// the lifetime of the cache.
func (r *Resolver) Resolve(ctx context.Context, stageKey string) (string, error) {
	if cached, ok := r.cache.get(stageKey); ok {
		return cached, nil
	}
	instruction, err := r.store.Instruction(ctx, stageKey)
	if err != nil {
		return "", err
	}
	r.cache.put(stageKey, instruction)
	return instruction, nil
}

// GormStore reads PromptTemplate rows.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the database-backed instruction store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Instruction implements Store.
func (s *GormStore) Instruction(ctx context.Context, stageKey string) (string, error) {
	var tpl models.PromptTemplate
	err := s.db.WithContext(ctx).Where("stage_key = ?", stageKey).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: stage %q", ErrMissingConfiguration, stageKey)
	}
	if err != nil {
		return "", err
	}
	return tpl.Instruction, nil
}
