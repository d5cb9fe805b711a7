package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/db"
)

type gormPendingRegistrationRepository struct {
	db *gorm.DB
}

// NewPendingRegistrationRepository returns a PendingRegistrationRepository
// backed by the provided *gorm.DB.
func NewPendingRegistrationRepository(database *gorm.DB) PendingRegistrationRepository {
	return &gormPendingRegistrationRepository{db: database}
}

// Create removes any prior pending registration for the same username
// before inserting, in one transaction (invariant P1).
func (r *gormPendingRegistrationRepository) Create(ctx context.Context, pr *db.PendingRegistration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", pr.Username).Delete(&db.PendingRegistration{}).Error; err != nil {
			return fmt.Errorf("pending registrations: invalidate existing: %w", err)
		}
		if err := tx.Create(pr).Error; err != nil {
			return fmt.Errorf("pending registrations: create: %w", err)
		}
		return nil
	})
}

func (r *gormPendingRegistrationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*db.PendingRegistration, error) {
	var pr db.PendingRegistration
	if err := r.db.WithContext(ctx).First(&pr, "token_hash = ?", tokenHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pending registrations: get by token hash: %w", err)
	}
	return &pr, nil
}

func (r *gormPendingRegistrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.PendingRegistration{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("pending registrations: delete: %w", err)
	}
	return nil
}

func (r *gormPendingRegistrationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&db.PendingRegistration{})
	if result.Error != nil {
		return 0, fmt.Errorf("pending registrations: delete expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
