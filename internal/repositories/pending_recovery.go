package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/db"
	"github.com/google/uuid"
)

type gormPendingRecoveryRepository struct {
	db *gorm.DB
}

// NewPendingRecoveryRepository returns a PendingRecoveryRepository backed by
// the provided *gorm.DB.
func NewPendingRecoveryRepository(database *gorm.DB) PendingRecoveryRepository {
	return &gormPendingRecoveryRepository{db: database}
}

// Create removes any prior pending recovery for the same user before
// inserting, in one transaction.
func (r *gormPendingRecoveryRepository) Create(ctx context.Context, pr *db.PendingRecovery) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", pr.UserID).Delete(&db.PendingRecovery{}).Error; err != nil {
			return fmt.Errorf("pending recoveries: invalidate existing: %w", err)
		}
		if err := tx.Create(pr).Error; err != nil {
			return fmt.Errorf("pending recoveries: create: %w", err)
		}
		return nil
	})
}

func (r *gormPendingRecoveryRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*db.PendingRecovery, error) {
	var pr db.PendingRecovery
	if err := r.db.WithContext(ctx).First(&pr, "token_hash = ?", tokenHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pending recoveries: get by token hash: %w", err)
	}
	return &pr, nil
}

// MarkUsed sets used_at only if it is currently unset, so a token is
// consumable at most once under concurrent redemption attempts.
func (r *gormPendingRecoveryRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.PendingRecovery{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at)
	if result.Error != nil {
		return fmt.Errorf("pending recoveries: mark used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *gormPendingRecoveryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&db.PendingRecovery{})
	if result.Error != nil {
		return 0, fmt.Errorf("pending recoveries: delete expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
