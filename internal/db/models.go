package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// AuthType identifies which second factor a user's credential blob holds.
type AuthType string

const (
	AuthTypeTOTP     AuthType = "totp"
	AuthTypeWebAuthn AuthType = "webauthn"
)

// User is the sole identity record. AuthCredential's meaning depends on
// AuthType: for TOTP it is the encrypted raw secret; for WebAuthn it is
// unused (credentials live in WebAuthnCredential instead).
//
// Association fields are intentionally absent. GORM cannot resolve foreign
// keys when the primary key is uuid.UUID (a custom type). Related records
// are loaded via explicit queries in the repository layer.
type User struct {
	base
	Username       string          `gorm:"uniqueIndex;not null"`
	AuthType       AuthType        `gorm:"not null;default:'totp'"`
	AuthCredential EncryptedString `gorm:"type:text"`
	CanDownload    bool            `gorm:"not null;default:false"`
	IsAdmin        bool            `gorm:"not null;default:false"`
	RecoveryEmail  EncryptedString `gorm:"type:text;default:''"`
	RecoveryPhone  EncryptedString `gorm:"type:text;default:''"`
	LastLoginAt    *time.Time
}

// RecoveryEnabled mirrors the derived invariant in SPEC_FULL §3: a user can
// use the magic-link recovery path iff it has a non-empty recovery contact.
func (u *User) RecoveryEnabled() bool {
	return u.RecoveryEmail != "" || u.RecoveryPhone != ""
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// Session stores the SHA-256 hash of an opaque bearer token. The raw token
// exists only in the response cookie — it is never persisted.
type Session struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	UserAgent string    `gorm:"default:''"`
	IPAddress string    `gorm:"default:''"`
	LastSeen  time.Time `gorm:"not null;index"`
	Persistent bool     `gorm:"not null;default:false"` // true for magic-link sessions (1y cookie)
}

// -----------------------------------------------------------------------------
// Pending registration / recovery
// -----------------------------------------------------------------------------

// PendingRegistration is a single-use, short-lived verification token issued
// at the start of account creation. Creating a new one for a username
// deletes any prior pending registration for that username.
type PendingRegistration struct {
	base
	Username  string    `gorm:"not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// PendingRecovery is a single-use, short-lived magic-link token bound to a
// specific user.
type PendingRecovery struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UsedAt    *time.Time
}

// -----------------------------------------------------------------------------
// Backup codes
// -----------------------------------------------------------------------------

// BackupCode is a single-use recovery code. CodeHash is a PHC-like encoded
// Argon2id hash (parameters travel with the hash, see internal/backupcodes).
type BackupCode struct {
	base
	UserID   uuid.UUID `gorm:"type:text;not null;index"`
	CodeHash string    `gorm:"not null"`
	UsedAt   *time.Time
}

// -----------------------------------------------------------------------------
// WebAuthn
// -----------------------------------------------------------------------------

// WebAuthnCredential binds a public-key credential to a user. SignCount is
// monotonic; a non-increasing value on a later assertion indicates cloning.
type WebAuthnCredential struct {
	base
	UserID       uuid.UUID       `gorm:"type:text;not null;index"`
	CredentialID string          `gorm:"not null;uniqueIndex"` // base64url
	PublicKey    EncryptedString `gorm:"type:text;not null"`   // CBOR COSE_Key
	SignCount    uint32          `gorm:"not null;default:0"`
	RevokedAt    *time.Time
}

// WebAuthnChallenge is a server-side-bound ceremony challenge, used for both
// registration (make-credential) and authentication (get-assertion).
type WebAuthnChallenge struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	Purpose   string    `gorm:"not null"` // "register" or "authenticate"
	Challenge string    `gorm:"not null"` // base64url, 32 random bytes
	ExpiresAt time.Time `gorm:"not null;index"`
	ConsumedAt *time.Time
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification is either per-user (UserID set) or a broadcast (UserID nil).
// Broadcasts are dismissed per-viewer via NotificationDismissal.
type Notification struct {
	base
	UserID       *uuid.UUID `gorm:"type:text;index"`
	Message      string     `gorm:"type:text;not null"`
	Type         string     `gorm:"not null"`
	Priority     int        `gorm:"not null;default:0"`
	Dismissable  bool       `gorm:"not null;default:true"`
	DismissedAt  *time.Time // only meaningful for per-user notifications
}

// NotificationDismissal records that a specific user dismissed a broadcast
// notification. Not used for per-user notifications (those use DismissedAt
// directly).
type NotificationDismissal struct {
	base
	NotificationID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_notif_user_dismiss"`
	UserID         uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_notif_user_dismiss"`
}

// -----------------------------------------------------------------------------
// Inbox
// -----------------------------------------------------------------------------

type ReplyMethod string

const (
	ReplyViaInApp ReplyMethod = "in_app"
	ReplyViaEmail ReplyMethod = "email"
)

type InboxStatus string

const (
	InboxStatusUnread   InboxStatus = "unread"
	InboxStatusRead     InboxStatus = "read"
	InboxStatusReplied  InboxStatus = "replied"
	InboxStatusArchived InboxStatus = "archived"
)

// InboxMessage is a user-to-admin message. ReplyEmail is cleared atomically
// with the transition to Replied — it must never be readable afterward.
type InboxMessage struct {
	base
	FromUserID uuid.UUID       `gorm:"type:text;not null;index"`
	Message    string          `gorm:"type:text;not null"`
	ReplyVia   ReplyMethod     `gorm:"not null"`
	ReplyEmail EncryptedString `gorm:"type:text;default:''"`
	Status     InboxStatus     `gorm:"not null;default:'unread';index"`
	ReadAt     *time.Time
	RepliedAt  *time.Time
}

// ContactLog is an append-only abuse-review trail: one row per inbox
// submission.
type ContactLog struct {
	base
	UserID uuid.UUID `gorm:"type:text;not null;index"`
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry. The notification
// service reads its SMTP configuration from the "smtp.*" keys.
type Setting struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}
