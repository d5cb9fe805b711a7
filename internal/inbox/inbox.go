// Package inbox implements InboxService (SPEC_FULL §4.10): user-to-admin
// contact messages with a reply method field and PII clearing on reply.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/notification"
	"github.com/audiobooks/authd/internal/repositories"
)

// ErrReplyEmailRequired is returned by Submit when reply_via is EMAIL but
// no reply_email was supplied.
var ErrReplyEmailRequired = errors.New("inbox: reply_email is required when reply_via is email")

// ErrNotFound mirrors repositories.ErrNotFound under this package's name.
var ErrNotFound = repositories.ErrNotFound

// Service wraps InboxRepository with submission validation and reply
// delivery.
type Service struct {
	repo   repositories.InboxRepository
	notify notification.Service
}

// New returns an inbox Service. notify is used only to deliver EMAIL
// replies; IN_APP replies never leave the database.
func New(repo repositories.InboxRepository, notify notification.Service) *Service {
	return &Service{repo: repo, notify: notify}
}

// Submit creates a new inbox message as UNREAD, appending a ContactLog row
// in the same transaction (handled by the repository).
func (s *Service) Submit(ctx context.Context, fromUserID uuid.UUID, message string, replyVia db.ReplyMethod, replyEmail string) (*db.InboxMessage, error) {
	if replyVia == db.ReplyViaEmail && replyEmail == "" {
		return nil, ErrReplyEmailRequired
	}
	msg := &db.InboxMessage{
		FromUserID: fromUserID,
		Message:    message,
		ReplyVia:   replyVia,
		ReplyEmail: db.EncryptedString(replyEmail),
		Status:     db.InboxStatusUnread,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("inbox: submit: %w", err)
	}
	return msg, nil
}

// MarkRead transitions a message from UNREAD to READ. Idempotent: messages
// already past UNREAD are left untouched.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkRead(ctx, id, time.Now()); err != nil {
		return fmt.Errorf("inbox: mark read: %w", err)
	}
	return nil
}

// MarkReplied delivers body via the message's recorded reply method, then
// atomically sets status=REPLIED and clears reply_email (Invariant I1).
// The delivery method is read from the stored message, not re-derived from
// caller input, so a reply always reaches the channel the sender asked for.
func (s *Service) MarkReplied(ctx context.Context, id uuid.UUID, body string) error {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("inbox: get for reply: %w", err)
	}

	if msg.ReplyVia == db.ReplyViaEmail && string(msg.ReplyEmail) != "" {
		if err := s.notify.SendMail(ctx, []string{string(msg.ReplyEmail)}, "Reply to your message", body); err != nil {
			return fmt.Errorf("inbox: deliver reply: %w", err)
		}
	}

	if err := s.repo.MarkReplied(ctx, id, time.Now()); err != nil {
		return fmt.Errorf("inbox: mark replied: %w", err)
	}
	return nil
}

// Archive transitions a message from any non-ARCHIVED status to ARCHIVED.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Archive(ctx, id); err != nil {
		return fmt.Errorf("inbox: archive: %w", err)
	}
	return nil
}

// List returns a paginated page of messages, newest first.
func (s *Service) List(ctx context.Context, opts repositories.ListOptions) ([]db.InboxMessage, int64, error) {
	messages, total, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("inbox: list: %w", err)
	}
	return messages, total, nil
}
