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

type gormInboxRepository struct {
	db *gorm.DB
}

// NewInboxRepository returns an InboxRepository backed by the provided *gorm.DB.
func NewInboxRepository(database *gorm.DB) InboxRepository {
	return &gormInboxRepository{db: database}
}

// Create inserts the message and an accompanying ContactLog row in one
// transaction, per the abuse-review trail in SPEC_FULL §3.
func (r *gormInboxRepository) Create(ctx context.Context, msg *db.InboxMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("inbox: create message: %w", err)
		}
		log := db.ContactLog{UserID: msg.FromUserID}
		if err := tx.Create(&log).Error; err != nil {
			return fmt.Errorf("inbox: create contact log: %w", err)
		}
		return nil
	})
}

func (r *gormInboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.InboxMessage, error) {
	var msg db.InboxMessage
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inbox: get by id: %w", err)
	}
	return &msg, nil
}

// MarkRead transitions unread -> read; idempotent for any other status.
func (r *gormInboxRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&db.InboxMessage{}).
		Where("id = ? AND status = ?", id, db.InboxStatusUnread).
		Updates(map[string]interface{}{"status": db.InboxStatusRead, "read_at": at}).Error; err != nil {
		return fmt.Errorf("inbox: mark read: %w", err)
	}
	return nil
}

// MarkReplied sets status=replied and clears reply_email atomically
// (invariant I1 — PII clearing on reply).
func (r *gormInboxRepository) MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&db.InboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      db.InboxStatusReplied,
			"replied_at":  at,
			"reply_email": "",
		}).Error; err != nil {
		return fmt.Errorf("inbox: mark replied: %w", err)
	}
	return nil
}

func (r *gormInboxRepository) Archive(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Model(&db.InboxMessage{}).
		Where("id = ? AND status != ?", id, db.InboxStatusArchived).
		Update("status", db.InboxStatusArchived).Error; err != nil {
		return fmt.Errorf("inbox: archive: %w", err)
	}
	return nil
}

func (r *gormInboxRepository) List(ctx context.Context, opts ListOptions) ([]db.InboxMessage, int64, error) {
	var messages []db.InboxMessage
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.InboxMessage{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("inbox: list count: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&messages).Error; err != nil {
		return nil, 0, fmt.Errorf("inbox: list: %w", err)
	}
	return messages, total, nil
}
