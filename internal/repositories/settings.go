package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/db"
)

// gormSettingsRepository is the GORM-backed implementation of SettingsRepository.
type gormSettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository backed by GORM.
func NewSettingsRepository(database *gorm.DB) SettingsRepository {
	return &gormSettingsRepository{db: database}
}

// Get retrieves a single setting by its exact key.
func (r *gormSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var s db.Setting
	if err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("settings: get: %w", err)
	}
	return string(s.Value), nil
}

// Set upserts a setting. On conflict (key already exists) the value and
// updated_at are overwritten, avoiding a read-before-write on every save.
func (r *gormSettingsRepository) Set(ctx context.Context, key, value string) error {
	s := db.Setting{Key: key, Value: db.EncryptedString(value)}
	if err := r.db.WithContext(ctx).Save(&s).Error; err != nil {
		return fmt.Errorf("settings: set: %w", err)
	}
	return nil
}

// GetMany retrieves all settings whose key starts with prefix — useful for
// loading an entire config namespace (e.g. all "smtp." keys).
func (r *gormSettingsRepository) GetMany(ctx context.Context, prefix string) (map[string]string, error) {
	var settings []db.Setting
	if err := r.db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("settings: get many: %w", err)
	}
	out := make(map[string]string, len(settings))
	for _, s := range settings {
		out[s.Key] = string(s.Value)
	}
	return out, nil
}

// Delete removes a setting by key. Idempotent: succeeds even if the key is
// absent.
func (r *gormSettingsRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Delete(&db.Setting{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("settings: delete: %w", err)
	}
	return nil
}
