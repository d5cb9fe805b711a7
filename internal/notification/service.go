package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/websocket"
)

// RetentionWindow is how long a dismissed notification is kept before the
// reaper purges it, mirroring the teacher's own notification-retention
// precedent.
const RetentionWindow = 30 * 24 * time.Hour

// Service is the single entry point for creating, dismissing, and
// delivering notifications (SPEC_FULL §4.11).
type Service interface {
	// NotifyUser creates a per-user notification, persists it, and pushes
	// it to the user's open WebSocket stream if any.
	NotifyUser(ctx context.Context, userID uuid.UUID, message, notifType string, priority int, dismissable bool) error

	// Broadcast creates a notification visible to every user until each
	// dismisses it individually.
	Broadcast(ctx context.Context, message, notifType string, priority int, dismissable bool) error

	// Dismiss marks a notification dismissed for the given viewer.
	// Idempotent for both per-user notifications and broadcasts.
	Dismiss(ctx context.Context, notificationID, userID uuid.UUID) error

	// ActiveForUser returns the undismissed notifications visible to a
	// user (owned + broadcasts), ordered by priority desc then recency.
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]db.Notification, error)

	// SendRecoveryEmail delivers a magic-link recovery email. Failures are
	// logged, never returned — the HTTP response must stay generic
	// regardless of delivery outcome (SPEC_FULL §4.8).
	SendRecoveryEmail(ctx context.Context, to, loginURL string)

	// SendMail delivers an arbitrary plaintext email, for callers outside
	// this package that need the shared SMTP sender (e.g. inbox replies).
	SendMail(ctx context.Context, to []string, subject, body string) error
}

type notificationService struct {
	notifRepo repositories.NotificationRepository
	hub       *websocket.Hub
	email     *emailSender
	logger    *zap.Logger
}

// Config holds the dependencies required to build a notification Service.
type Config struct {
	NotifRepo    repositories.NotificationRepository
	SettingsRepo repositories.SettingsRepository
	Hub          *websocket.Hub
	Logger       *zap.Logger
}

// NewService creates a new notification Service. The email sender is wired
// internally — callers only need to provide the Config dependencies.
func NewService(cfg Config) Service {
	svc := &notificationService{
		notifRepo: cfg.NotifRepo,
		hub:       cfg.Hub,
		logger:    cfg.Logger.Named("notification"),
	}
	svc.email = newEmailSender(func(ctx context.Context) (*SMTPConfig, error) {
		return loadSMTPConfig(ctx, cfg.SettingsRepo)
	})
	return svc
}

func (s *notificationService) NotifyUser(ctx context.Context, userID uuid.UUID, message, notifType string, priority int, dismissable bool) error {
	n := &db.Notification{
		UserID:      &userID,
		Message:     message,
		Type:        notifType,
		Priority:    priority,
		Dismissable: dismissable,
	}
	if err := s.notifRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("notification: notify user: %w", err)
	}
	s.publish(userID, n)
	return nil
}

func (s *notificationService) Broadcast(ctx context.Context, message, notifType string, priority int, dismissable bool) error {
	n := &db.Notification{
		Message:     message,
		Type:        notifType,
		Priority:    priority,
		Dismissable: dismissable,
	}
	if err := s.notifRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("notification: broadcast: %w", err)
	}
	return nil
}

func (s *notificationService) Dismiss(ctx context.Context, notificationID, userID uuid.UUID) error {
	if err := s.notifRepo.DismissForUser(ctx, notificationID, userID); err != nil {
		return fmt.Errorf("notification: dismiss: %w", err)
	}
	return nil
}

func (s *notificationService) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]db.Notification, error) {
	active, err := s.notifRepo.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("notification: active for user: %w", err)
	}
	return active, nil
}

// publish pushes a freshly created notification to the user's open stream,
// if any. A slow or absent subscriber never blocks notification creation —
// the in-app row is already the authoritative record.
func (s *notificationService) publish(userID uuid.UUID, n *db.Notification) {
	topic := fmt.Sprintf("notifications:%s", userID.String())
	s.hub.Publish(topic, websocket.Message{
		Type:  websocket.MsgNotification,
		Topic: topic,
		Payload: map[string]any{
			"id":         n.ID.String(),
			"type":       n.Type,
			"message":    n.Message,
			"priority":   n.Priority,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}

func (s *notificationService) SendMail(ctx context.Context, to []string, subject, body string) error {
	return s.email.Send(ctx, to, subject, body)
}

func (s *notificationService) SendRecoveryEmail(ctx context.Context, to, loginURL string) {
	subject := "Your account recovery link"
	body := fmt.Sprintf("Use the link below to sign in. It expires in 15 minutes and can be used once.\n\n%s", loginURL)
	if err := s.email.Send(ctx, []string{to}, subject, body); err != nil {
		s.logger.Warn("recovery email delivery failed", zap.Error(err))
	}
}
