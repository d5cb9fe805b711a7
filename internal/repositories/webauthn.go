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

type gormWebAuthnCredentialRepository struct {
	db *gorm.DB
}

// NewWebAuthnCredentialRepository returns a WebAuthnCredentialRepository
// backed by the provided *gorm.DB.
func NewWebAuthnCredentialRepository(database *gorm.DB) WebAuthnCredentialRepository {
	return &gormWebAuthnCredentialRepository{db: database}
}

func (r *gormWebAuthnCredentialRepository) Create(ctx context.Context, cred *db.WebAuthnCredential) error {
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("webauthn credentials: create: %w", err)
	}
	return nil
}

func (r *gormWebAuthnCredentialRepository) GetByCredentialID(ctx context.Context, credentialID string) (*db.WebAuthnCredential, error) {
	var cred db.WebAuthnCredential
	if err := r.db.WithContext(ctx).First(&cred, "credential_id = ?", credentialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webauthn credentials: get by credential id: %w", err)
	}
	return &cred, nil
}

func (r *gormWebAuthnCredentialRepository) UpdateSignCount(ctx context.Context, id uuid.UUID, newCount uint32) error {
	if err := r.db.WithContext(ctx).
		Model(&db.WebAuthnCredential{}).
		Where("id = ?", id).
		Update("sign_count", newCount).Error; err != nil {
		return fmt.Errorf("webauthn credentials: update sign count: %w", err)
	}
	return nil
}

func (r *gormWebAuthnCredentialRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Model(&db.WebAuthnCredential{}).
		Where("id = ?", id).
		Update("revoked_at", time.Now()).Error; err != nil {
		return fmt.Errorf("webauthn credentials: revoke: %w", err)
	}
	return nil
}

func (r *gormWebAuthnCredentialRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]db.WebAuthnCredential, error) {
	var creds []db.WebAuthnCredential
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("webauthn credentials: list by user: %w", err)
	}
	return creds, nil
}

// -----------------------------------------------------------------------------

type gormWebAuthnChallengeRepository struct {
	db *gorm.DB
}

// NewWebAuthnChallengeRepository returns a WebAuthnChallengeRepository
// backed by the provided *gorm.DB.
func NewWebAuthnChallengeRepository(database *gorm.DB) WebAuthnChallengeRepository {
	return &gormWebAuthnChallengeRepository{db: database}
}

func (r *gormWebAuthnChallengeRepository) Create(ctx context.Context, userID uuid.UUID, purpose, challenge string, expiresAt time.Time) error {
	c := db.WebAuthnChallenge{
		UserID:    userID,
		Purpose:   purpose,
		Challenge: challenge,
		ExpiresAt: expiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return fmt.Errorf("webauthn challenges: create: %w", err)
	}
	return nil
}

// Consume looks up the most recent matching, unexpired, unconsumed
// challenge and marks it consumed in one transaction.
func (r *gormWebAuthnChallengeRepository) Consume(ctx context.Context, userID uuid.UUID, purpose, challenge string, now time.Time) (bool, error) {
	var found bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c db.WebAuthnChallenge
		err := tx.
			Where("user_id = ? AND purpose = ? AND challenge = ? AND expires_at >= ? AND consumed_at IS NULL", userID, purpose, challenge, now).
			Order("created_at DESC").
			First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("webauthn challenges: lookup: %w", err)
		}
		if err := tx.Model(&c).Update("consumed_at", now).Error; err != nil {
			return fmt.Errorf("webauthn challenges: mark consumed: %w", err)
		}
		found = true
		return nil
	})
	return found, err
}
