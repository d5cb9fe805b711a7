package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/db"
)

// gormNotificationRepository is the GORM implementation of NotificationRepository.
type gormNotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository returns a NotificationRepository backed by the provided *gorm.DB.
func NewNotificationRepository(database *gorm.DB) NotificationRepository {
	return &gormNotificationRepository{db: database}
}

// Create inserts a new notification record into the database. After
// insertion, the caller is responsible for pushing it to the user's open
// notification stream via the WebSocket hub.
func (r *gormNotificationRepository) Create(ctx context.Context, notification *db.Notification) error {
	if err := r.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("notifications: create: %w", err)
	}
	return nil
}

// GetByID retrieves a notification by its UUID. Returns ErrNotFound if no
// record exists.
func (r *gormNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	var notification db.Notification
	err := r.db.WithContext(ctx).First(&notification, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notifications: get by id: %w", err)
	}
	return &notification, nil
}

// DismissForUser marks a per-user notification dismissed, or records a
// per-viewer dismissal for a broadcast. Both paths are idempotent.
func (r *gormNotificationRepository) DismissForUser(ctx context.Context, notificationID, userID uuid.UUID) error {
	notification, err := r.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}

	if notification.UserID != nil {
		if *notification.UserID != userID {
			return ErrNotFound
		}
		if err := r.db.WithContext(ctx).
			Model(&db.Notification{}).
			Where("id = ? AND dismissed_at IS NULL", notificationID).
			Update("dismissed_at", time.Now()).Error; err != nil {
			return fmt.Errorf("notifications: dismiss: %w", err)
		}
		return nil
	}

	dismissal := db.NotificationDismissal{NotificationID: notificationID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(&dismissal).Error; err != nil {
		if isUniqueViolation(err) {
			return nil // already dismissed by this viewer
		}
		return fmt.Errorf("notifications: dismiss broadcast: %w", err)
	}
	return nil
}

// ActiveForUser unions owned, undismissed notifications with undismissed
// broadcasts, ordered by priority desc then created_at desc.
func (r *gormNotificationRepository) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]db.Notification, error) {
	var owned []db.Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND dismissed_at IS NULL", userID).
		Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("notifications: list owned: %w", err)
	}

	var broadcasts []db.Notification
	if err := r.db.WithContext(ctx).
		Where("user_id IS NULL").
		Where("id NOT IN (?)", r.db.WithContext(ctx).
			Model(&db.NotificationDismissal{}).
			Select("notification_id").
			Where("user_id = ?", userID)).
		Find(&broadcasts).Error; err != nil {
		return nil, fmt.Errorf("notifications: list broadcasts: %w", err)
	}

	all := append(owned, broadcasts...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}

// DeleteDismissedOlderThan permanently removes per-user notifications whose
// dismissed_at is older than the given time. Broadcast notifications and
// their notification_dismissals rows are not removed.
func (r *gormNotificationRepository) DeleteDismissedOlderThan(ctx context.Context, t time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("dismissed_at IS NOT NULL AND dismissed_at < ?", t).
		Delete(&db.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notifications: delete dismissed older than: %w", result.Error)
	}
	return result.RowsAffected, nil
}
