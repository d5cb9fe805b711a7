package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByUsername(ctx context.Context, username string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)
}

// -----------------------------------------------------------------------------
// SessionRepository
// -----------------------------------------------------------------------------

type SessionRepository interface {
	// Create inserts a new session and deletes all other sessions for the
	// same user, atomically, enforcing the single-session-per-user
	// invariant.
	Create(ctx context.Context, session *db.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*db.Session, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	DeleteStaleBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// CountActive returns the number of sessions not yet stale as of cutoff.
	CountActive(ctx context.Context, cutoff time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// PendingRegistrationRepository
// -----------------------------------------------------------------------------

type PendingRegistrationRepository interface {
	// Create inserts a new pending registration and deletes any existing
	// one for the same username, atomically.
	Create(ctx context.Context, pr *db.PendingRegistration) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*db.PendingRegistration, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// PendingRecoveryRepository
// -----------------------------------------------------------------------------

type PendingRecoveryRepository interface {
	// Create inserts a new pending recovery and deletes any existing one
	// for the same user, atomically.
	Create(ctx context.Context, pr *db.PendingRecovery) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*db.PendingRecovery, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// BackupCodeRepository
// -----------------------------------------------------------------------------

type BackupCodeRepository interface {
	// ReplaceAll deletes all unused codes for the user and inserts the
	// given set, in a single transaction.
	ReplaceAll(ctx context.Context, userID uuid.UUID, hashes []string) error
	ListUnused(ctx context.Context, userID uuid.UUID) ([]db.BackupCode, error)
	CountUnused(ctx context.Context, userID uuid.UUID) (int64, error)
	// Consume marks the given code row used if and only if it is
	// currently unused, returning true exactly once per code.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
}

// -----------------------------------------------------------------------------
// WebAuthnCredentialRepository
// -----------------------------------------------------------------------------

type WebAuthnCredentialRepository interface {
	Create(ctx context.Context, cred *db.WebAuthnCredential) error
	GetByCredentialID(ctx context.Context, credentialID string) (*db.WebAuthnCredential, error)
	UpdateSignCount(ctx context.Context, id uuid.UUID, newCount uint32) error
	Revoke(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]db.WebAuthnCredential, error)
}

// -----------------------------------------------------------------------------
// WebAuthnChallengeRepository
// -----------------------------------------------------------------------------

type WebAuthnChallengeRepository interface {
	Create(ctx context.Context, userID uuid.UUID, purpose, challenge string, expiresAt time.Time) error
	// Consume returns true iff a matching, unexpired, unconsumed
	// challenge existed, marking it consumed.
	Consume(ctx context.Context, userID uuid.UUID, purpose, challenge string, now time.Time) (bool, error)
}

// -----------------------------------------------------------------------------
// NotificationRepository
// -----------------------------------------------------------------------------

type NotificationRepository interface {
	Create(ctx context.Context, notification *db.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	// DismissForUser marks a per-user notification dismissed, or inserts a
	// NotificationDismissal row for a broadcast notification. Idempotent.
	DismissForUser(ctx context.Context, notificationID, userID uuid.UUID) error
	// ActiveForUser returns owned, undismissed notifications unioned with
	// undismissed broadcasts, ordered by priority desc then created_at desc.
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]db.Notification, error)
	DeleteDismissedOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// InboxRepository
// -----------------------------------------------------------------------------

type InboxRepository interface {
	// Create inserts the message and appends a ContactLog row, atomically.
	Create(ctx context.Context, msg *db.InboxMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.InboxMessage, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkReplied sets status=replied and clears ReplyEmail atomically.
	MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error
	Archive(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.InboxMessage, int64, error)
}

// -----------------------------------------------------------------------------
// SettingsRepository
// -----------------------------------------------------------------------------

type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetMany(ctx context.Context, prefix string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
}
