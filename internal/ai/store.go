package ai

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"lumen-build/internal/config"
	"lumen-build/pkg/models"
)

// ConfigSource resolves the live provider configuration. The router depends
// on this interface; tests substitute an in-memory source.
type ConfigSource interface {
	Active(ctx context.Context) (*models.AIProviderConfig, error)
	Fallback(ctx context.Context) (*models.AIProviderConfig, error)
}

// ConfigStore persists provider configurations with a single-slot rotation:
// at most one active and one fallback row exist at any time, and activating a
// config demotes the previously active one to fallback.
type ConfigStore struct {
	db     *gorm.DB
	keeper *config.Keeper
}

// NewConfigStore creates a store. The keeper encrypts API keys at rest.
func NewConfigStore(db *gorm.DB, keeper *config.Keeper) *ConfigStore {
	return &ConfigStore{db: db, keeper: keeper}
}

// Active implements ConfigSource.
func (s *ConfigStore) Active(ctx context.Context) (*models.AIProviderConfig, error) {
	var cfg models.AIProviderConfig
	err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveProvider
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Fallback implements ConfigSource. A missing fallback is not an error; the
// caller checks for nil.
func (s *ConfigStore) Fallback(ctx context.Context) (*models.AIProviderConfig, error) {
	var cfg models.AIProviderConfig
	err := s.db.WithContext(ctx).Where("is_fallback = ?", true).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save creates or updates a configuration, encrypting the supplied API key.
// An empty apiKey keeps any previously stored ciphertext.
func (s *ConfigStore) Save(ctx context.Context, cfg *models.AIProviderConfig, apiKey string) error {
	if apiKey != "" {
		ct, err := s.keeper.Encrypt(normalizeAPIKey(apiKey))
		if err != nil {
			return fmt.Errorf("failed to encrypt API key: %w", err)
		}
		cfg.APIKeyCiphertext = ct
	}
	return s.db.WithContext(ctx).Save(cfg).Error
}

// Activate promotes the config with the given id to the active slot and
// demotes the previously active config to fallback. The rotation is a single
// swap, not a stack.
func (s *ConfigStore) Activate(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.AIProviderConfig
		if err := tx.First(&target, id).Error; err != nil {
			return fmt.Errorf("provider config %d: %w", id, err)
		}
		if target.IsActive {
			return nil
		}

		// Clear the fallback slot, then demote the current active into it.
		if err := tx.Model(&models.AIProviderConfig{}).
			Where("is_fallback = ?", true).
			Update("is_fallback", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AIProviderConfig{}).
			Where("is_active = ?", true).
			Updates(map[string]any{"is_active": false, "is_fallback": true}).Error; err != nil {
			return err
		}
		return tx.Model(&target).
			Updates(map[string]any{"is_active": true, "is_fallback": false}).Error
	})
}

// List returns all stored configurations.
func (s *ConfigStore) List(ctx context.Context) ([]models.AIProviderConfig, error) {
	var cfgs []models.AIProviderConfig
	if err := s.db.WithContext(ctx).Order("id").Find(&cfgs).Error; err != nil {
		return nil, err
	}
	return cfgs, nil
}

// DecryptKey returns the plaintext API key for a configuration.
func (s *ConfigStore) DecryptKey(cfg *models.AIProviderConfig) (string, error) {
	if cfg.APIKeyCiphertext == "" {
		return "", fmt.Errorf("provider config %q has no credentials", cfg.Name)
	}
	return s.keeper.Decrypt(cfg.APIKeyCiphertext)
}
