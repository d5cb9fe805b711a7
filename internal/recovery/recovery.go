package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/backupcodes"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/session"
	"github.com/audiobooks/authd/internal/tokens"
	"github.com/audiobooks/authd/internal/totp"
)

// MagicLinkTTL is how long a magic-link recovery token remains redeemable.
const MagicLinkTTL = 15 * time.Minute

// MagicLinkSessionTTL is the cookie max-age the HTTP layer should give a
// session created via magic-link — persistent, unlike the ordinary
// browser-session cookie login sessions get.
const MagicLinkSessionTTL = 365 * 24 * time.Hour

// ErrRecoveryFailed is the single opaque error the backup-code path
// returns on any failure, so the response body cannot be used to
// distinguish why recovery failed (SPEC_FULL §7, §8).
var ErrRecoveryFailed = errors.New("recovery: invalid username or backup code")

// decoyHash is verified against on a miss so the wall-clock cost matches
// the path where the user exists but the code is wrong (SPEC_FULL §8:
// response bodies across the user-exists/user-absent partition must be
// indistinguishable).
const decoyHash = "argon2id$v=19$m=65536,t=2,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service implements the backup-code and magic-link recovery protocols
// (SPEC_FULL §4.7, §4.8).
type Service struct {
	db        *gorm.DB
	directory *account.Directory
	sessions  *session.Manager
	codes     repositories.BackupCodeRepository
	magic     repositories.PendingRecoveryRepository
	issuer    string
}

// New returns a recovery Service. database is the underlying GORM handle,
// used only for the cross-entity transaction in RecoverWithBackupCode —
// every other operation goes through the injected repositories/services.
func New(database *gorm.DB, directory *account.Directory, sessions *session.Manager, codes repositories.BackupCodeRepository, magic repositories.PendingRecoveryRepository, issuer string) *Service {
	return &Service{db: database, directory: directory, sessions: sessions, codes: codes, magic: magic, issuer: issuer}
}

// Rotation is returned on a successful backup-code recovery: the rotated
// second factor and fresh backup codes, the only moment this plaintext
// material exists.
type Rotation struct {
	TOTPSecret        []byte
	TOTPProvisioning  string
	BackupCodes       []string
	RemainingOldCodes int
}

// RecoverWithBackupCode implements SPEC_FULL §4.7. On success it consumes
// the matched backup code, rotates the user's TOTP secret, replaces all
// backup codes, and invalidates every existing session, all within a
// single transaction — if any step fails, including the TOTP rotation or
// session invalidation, the whole sequence rolls back and the consumed
// code is restored.
func (s *Service) RecoverWithBackupCode(ctx context.Context, username, code string) (*Rotation, error) {
	normalized := backupcodes.Normalize(code)

	user, err := s.directory.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			backupcodes.Verify(normalized, decoyHash)
			return nil, ErrRecoveryFailed
		}
		return nil, err
	}

	unused, err := s.codes.ListUnused(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("recovery: list unused codes: %w", err)
	}

	matchedIdx := -1
	for i := range unused {
		if backupcodes.Verify(normalized, unused[i].CodeHash) {
			matchedIdx = i
			break
		}
	}
	if matchedIdx == -1 {
		return nil, ErrRecoveryFailed
	}
	matchedID := unused[matchedIdx].ID
	remaining := len(unused) - 1

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	newCodes, err := backupcodes.Generate()
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(newCodes))
	for i, c := range newCodes {
		h, err := backupcodes.Hash(backupcodes.Normalize(c))
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}

	recovered := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		consumed, err := repositories.NewBackupCodeRepository(tx).Consume(ctx, matchedID)
		if err != nil {
			return fmt.Errorf("recovery: consume backup code: %w", err)
		}
		if !consumed {
			// Another concurrent request consumed it first; commit
			// with nothing changed and report recovery as failed.
			return nil
		}
		if err := tx.Model(&db.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"auth_type":       db.AuthTypeTOTP,
				"auth_credential": db.EncryptedString(secret),
			}).Error; err != nil {
			return fmt.Errorf("recovery: rotate totp secret: %w", err)
		}
		if err := repositories.NewBackupCodeRepository(tx).ReplaceAll(ctx, user.ID, hashes); err != nil {
			return fmt.Errorf("recovery: replace backup codes: %w", err)
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&db.Session{}).Error; err != nil {
			return fmt.Errorf("recovery: invalidate sessions: %w", err)
		}
		recovered = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !recovered {
		return nil, ErrRecoveryFailed
	}

	return &Rotation{
		TOTPSecret:        secret,
		TOTPProvisioning:  totp.ProvisioningURI(s.issuer, user.Username, secret),
		BackupCodes:       newCodes,
		RemainingOldCodes: remaining,
	}, nil
}

// MagicLinkIssue carries what StartMagicLink produced, for the HTTP layer
// to act on (send the email) while still returning the same generic
// response regardless of its value.
type MagicLinkIssue struct {
	Token string
	User  *db.User
}

// StartMagicLink implements SPEC_FULL §4.8: it creates a PendingRecovery
// only if the user exists and has a recovery email, returning nil
// otherwise. Callers MUST respond to the HTTP client with the same
// generic message regardless of whether this returns nil — the return
// value exists only to decide whether an email gets sent, never to shape
// the response.
func (s *Service) StartMagicLink(ctx context.Context, username string) *MagicLinkIssue {
	user, err := s.directory.GetByUsername(ctx, username)
	if err != nil || !user.RecoveryEnabled() || user.RecoveryEmail == "" {
		return nil
	}

	token, hash, err := tokens.Generate()
	if err != nil {
		return nil
	}
	pr := &db.PendingRecovery{
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(MagicLinkTTL),
	}
	if err := s.magic.Create(ctx, pr); err != nil {
		return nil
	}
	return &MagicLinkIssue{Token: token, User: user}
}

// VerifyMagicLink implements the redemption half of §4.8: resolve, mark
// used, invalidate existing sessions, and issue a new persistent session.
func (s *Service) VerifyMagicLink(ctx context.Context, token, userAgent, ip string) (*session.Issued, error) {
	pr, err := s.magic.GetByTokenHash(ctx, tokens.Hash(token))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("recovery: verify magic link: %w", err)
	}
	if pr.UsedAt != nil || time.Now().After(pr.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if err := s.magic.MarkUsed(ctx, pr.ID, time.Now()); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("recovery: mark magic link used: %w", err)
	}

	if err := s.sessions.InvalidateUserSessions(ctx, pr.UserID); err != nil {
		return nil, fmt.Errorf("recovery: invalidate sessions: %w", err)
	}
	issued, err := s.sessions.CreateForUser(ctx, pr.UserID, userAgent, ip, true)
	if err != nil {
		return nil, fmt.Errorf("recovery: create session: %w", err)
	}
	return issued, nil
}
