// Package recovery implements the three single-use verification protocols
// that move a user across an identity boundary without an existing
// session: new-account registration, backup-code recovery, and magic-link
// recovery (SPEC_FULL §4.7, §4.8).
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/backupcodes"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/tokens"
	"github.com/audiobooks/authd/internal/totp"
)

// RegistrationTTL is how long a pending registration remains redeemable.
const RegistrationTTL = 15 * time.Minute

var (
	// ErrInvalidToken is returned when a registration token is absent,
	// expired, or already consumed.
	ErrInvalidToken = errors.New("recovery: invalid or expired token")
	// ErrUnsupportedAuthType is returned when register/verify requests an
	// auth_type other than "totp" — WebAuthn registration is reserved in
	// the data model (SPEC_FULL §9) but not yet a supported entry path.
	ErrUnsupportedAuthType = errors.New("recovery: unsupported auth_type")
)

// RegistrationService implements the /register/start and /register/verify
// operations.
type RegistrationService struct {
	directory *account.Directory
	pending   repositories.PendingRegistrationRepository
	codes     repositories.BackupCodeRepository
	issuer    string
}

// NewRegistrationService returns a RegistrationService. issuer names the
// TOTP provisioning URI's issuer field (e.g. the product name).
func NewRegistrationService(directory *account.Directory, pending repositories.PendingRegistrationRepository, codes repositories.BackupCodeRepository, issuer string) *RegistrationService {
	return &RegistrationService{directory: directory, pending: pending, codes: codes, issuer: issuer}
}

// Start creates a PendingRegistration for username, deleting any prior one
// for the same username (invariant P1), and returns the raw verification
// token. The caller decides how to deliver it (inline in dev, out-of-band
// in production).
func (s *RegistrationService) Start(ctx context.Context, username string) (string, error) {
	if err := account.ValidateUsername(username); err != nil {
		return "", err
	}

	token, hash, err := tokens.Generate()
	if err != nil {
		return "", err
	}
	pr := &db.PendingRegistration{
		Username:  username,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(RegistrationTTL),
	}
	if err := s.pending.Create(ctx, pr); err != nil {
		return "", fmt.Errorf("recovery: start registration: %w", err)
	}
	return token, nil
}

// VerifiedRegistration is returned by Verify: the new user plus the
// plaintext second-factor material that exists only at this moment.
type VerifiedRegistration struct {
	User             *db.User
	TOTPSecret       []byte
	TOTPProvisioning string
	BackupCodes      []string
}

// Verify redeems a pending registration token and creates the user. Only
// authType "totp" is currently accepted; authType is validated before any
// state is touched.
func (s *RegistrationService) Verify(ctx context.Context, token, authType, recoveryEmail, recoveryPhone string) (*VerifiedRegistration, error) {
	if authType != string(db.AuthTypeTOTP) {
		return nil, ErrUnsupportedAuthType
	}

	pr, err := s.pending.GetByTokenHash(ctx, tokens.Hash(token))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("recovery: verify registration: %w", err)
	}
	if time.Now().After(pr.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if err := account.ValidateUsername(pr.Username); err != nil {
		return nil, err
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, err := backupcodes.Generate()
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		h, err := backupcodes.Hash(backupcodes.Normalize(c))
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}

	user := &db.User{
		Username:       pr.Username,
		AuthType:       db.AuthTypeTOTP,
		AuthCredential: db.EncryptedString(secret),
		RecoveryEmail:  db.EncryptedString(recoveryEmail),
		RecoveryPhone:  db.EncryptedString(recoveryPhone),
	}
	if err := s.directory.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("recovery: create user: %w", err)
	}
	if err := s.codes.ReplaceAll(ctx, user.ID, hashes); err != nil {
		return nil, fmt.Errorf("recovery: store backup codes: %w", err)
	}
	if err := s.pending.Delete(ctx, pr.ID); err != nil {
		return nil, fmt.Errorf("recovery: consume pending registration: %w", err)
	}

	return &VerifiedRegistration{
		User:             user,
		TOTPSecret:       secret,
		TOTPProvisioning: totp.ProvisioningURI(s.issuer, user.Username, secret),
		BackupCodes:      codes,
	}, nil
}
