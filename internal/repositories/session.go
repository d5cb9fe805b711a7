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

type gormSessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository returns a SessionRepository backed by the provided *gorm.DB.
func NewSessionRepository(database *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: database}
}

// Create enforces the single-session-per-user invariant: deleting every
// other session for the user happens in the same transaction as the
// insert, so no external observer ever sees two simultaneously valid
// sessions for one user.
func (r *gormSessionRepository) Create(ctx context.Context, session *db.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", session.UserID).Delete(&db.Session{}).Error; err != nil {
			return fmt.Errorf("sessions: invalidate existing: %w", err)
		}
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("sessions: create: %w", err)
		}
		return nil
	})
}

func (r *gormSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*db.Session, error) {
	var session db.Session
	if err := r.db.WithContext(ctx).First(&session, "token_hash = ?", tokenHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get by token hash: %w", err)
	}
	return &session, nil
}

func (r *gormSessionRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&db.Session{}).
		Where("id = ?", id).
		Update("last_seen", at).Error; err != nil {
		return fmt.Errorf("sessions: touch: %w", err)
	}
	return nil
}

func (r *gormSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.Session{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("sessions: delete: %w", err)
	}
	return nil
}

func (r *gormSessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.Session{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("sessions: delete by user: %w", err)
	}
	return nil
}

// DeleteStaleBefore reaps sessions whose last_seen predates cutoff,
// implementing the read-independent staleness grace.
func (r *gormSessionRepository) DeleteStaleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("last_seen < ?", cutoff).Delete(&db.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("sessions: delete stale: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *gormSessionRepository) CountActive(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&db.Session{}).Where("last_seen >= ?", cutoff).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("sessions: count active: %w", err)
	}
	return count, nil
}
