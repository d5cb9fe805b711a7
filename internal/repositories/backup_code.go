package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/db"
)

type gormBackupCodeRepository struct {
	db *gorm.DB
}

// NewBackupCodeRepository returns a BackupCodeRepository backed by the
// provided *gorm.DB.
func NewBackupCodeRepository(database *gorm.DB) BackupCodeRepository {
	return &gormBackupCodeRepository{db: database}
}

// ReplaceAll deletes all unused codes for the user and inserts the given
// hashes, atomically — used codes are kept for audit purposes (e.g. the one
// just consumed during a backup-code recovery).
func (r *gormBackupCodeRepository) ReplaceAll(ctx context.Context, userID uuid.UUID, hashes []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND used_at IS NULL", userID).Delete(&db.BackupCode{}).Error; err != nil {
			return fmt.Errorf("backup codes: delete unused: %w", err)
		}
		codes := make([]db.BackupCode, len(hashes))
		for i, h := range hashes {
			codes[i] = db.BackupCode{UserID: userID, CodeHash: h}
		}
		if len(codes) > 0 {
			if err := tx.Create(&codes).Error; err != nil {
				return fmt.Errorf("backup codes: insert: %w", err)
			}
		}
		return nil
	})
}

func (r *gormBackupCodeRepository) ListUnused(ctx context.Context, userID uuid.UUID) ([]db.BackupCode, error) {
	var codes []db.BackupCode
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND used_at IS NULL", userID).
		Find(&codes).Error; err != nil {
		return nil, fmt.Errorf("backup codes: list unused: %w", err)
	}
	return codes, nil
}

func (r *gormBackupCodeRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&db.BackupCode{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("backup codes: count unused: %w", err)
	}
	return count, nil
}

// Consume marks the code used only if it is currently unused, so
// concurrent redemption attempts for the same code have exactly one
// winner (invariant B1).
func (r *gormBackupCodeRepository) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&db.BackupCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", time.Now())
	if result.Error != nil {
		return false, fmt.Errorf("backup codes: consume: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
