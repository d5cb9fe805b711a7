package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
)

type fakePendingRegistrationRepository struct {
	byID   map[uuid.UUID]*db.PendingRegistration
	byHash map[string]uuid.UUID
}

func newFakePendingRegistrationRepository() *fakePendingRegistrationRepository {
	return &fakePendingRegistrationRepository{
		byID:   make(map[uuid.UUID]*db.PendingRegistration),
		byHash: make(map[string]uuid.UUID),
	}
}

func (f *fakePendingRegistrationRepository) Create(ctx context.Context, pr *db.PendingRegistration) error {
	for id, existing := range f.byID {
		if existing.Username == pr.Username {
			delete(f.byHash, existing.TokenHash)
			delete(f.byID, id)
		}
	}
	if pr.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		pr.ID = id
	}
	cp := *pr
	f.byID[pr.ID] = &cp
	f.byHash[pr.TokenHash] = pr.ID
	return nil
}

func (f *fakePendingRegistrationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*db.PendingRegistration, error) {
	id, ok := f.byHash[tokenHash]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *f.byID[id]
	return &cp, nil
}

func (f *fakePendingRegistrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if pr, ok := f.byID[id]; ok {
		delete(f.byHash, pr.TokenHash)
		delete(f.byID, id)
	}
	return nil
}

func (f *fakePendingRegistrationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for id, pr := range f.byID {
		if pr.ExpiresAt.Before(before) {
			delete(f.byHash, pr.TokenHash)
			delete(f.byID, id)
			n++
		}
	}
	return n, nil
}

type fakeBackupCodeRepository struct {
	byUser map[uuid.UUID][]db.BackupCode
}

func newFakeBackupCodeRepository() *fakeBackupCodeRepository {
	return &fakeBackupCodeRepository{byUser: make(map[uuid.UUID][]db.BackupCode)}
}

func (f *fakeBackupCodeRepository) ReplaceAll(ctx context.Context, userID uuid.UUID, hashes []string) error {
	codes := make([]db.BackupCode, len(hashes))
	for i, h := range hashes {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		codes[i] = db.BackupCode{UserID: userID, CodeHash: h}
		codes[i].ID = id
	}
	f.byUser[userID] = codes
	return nil
}

func (f *fakeBackupCodeRepository) ListUnused(ctx context.Context, userID uuid.UUID) ([]db.BackupCode, error) {
	var out []db.BackupCode
	for _, c := range f.byUser[userID] {
		if c.UsedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeBackupCodeRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int64, error) {
	unused, _ := f.ListUnused(ctx, userID)
	return int64(len(unused)), nil
}

func (f *fakeBackupCodeRepository) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	for userID, codes := range f.byUser {
		for i := range codes {
			if codes[i].ID == id {
				if codes[i].UsedAt != nil {
					return false, nil
				}
				now := time.Now()
				f.byUser[userID][i].UsedAt = &now
				return true, nil
			}
		}
	}
	return false, nil
}

func newTestRegistrationService() (*RegistrationService, *fakePendingRegistrationRepository) {
	users := account.New(newFakeDirectoryRepo())
	pending := newFakePendingRegistrationRepository()
	codes := newFakeBackupCodeRepository()
	return NewRegistrationService(users, pending, codes, "authd-test"), pending
}

// fakeDirectoryRepo is a minimal repositories.UserRepository for exercising
// RegistrationService without a database.
type fakeDirectoryRepo struct {
	byID       map[uuid.UUID]*db.User
	byUsername map[string]uuid.UUID
}

func newFakeDirectoryRepo() *fakeDirectoryRepo {
	return &fakeDirectoryRepo{byID: make(map[uuid.UUID]*db.User), byUsername: make(map[string]uuid.UUID)}
}

func (f *fakeDirectoryRepo) Create(ctx context.Context, user *db.User) error {
	if _, ok := f.byUsername[user.Username]; ok {
		return repositories.ErrConflict
	}
	if user.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		user.ID = id
	}
	cp := *user
	f.byID[user.ID] = &cp
	f.byUsername[user.Username] = user.ID
	return nil
}

func (f *fakeDirectoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeDirectoryRepo) GetByUsername(ctx context.Context, username string) (*db.User, error) {
	id, ok := f.byUsername[username]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeDirectoryRepo) Update(ctx context.Context, user *db.User) error {
	if _, ok := f.byID[user.ID]; !ok {
		return repositories.ErrNotFound
	}
	cp := *user
	f.byID[user.ID] = &cp
	return nil
}

func (f *fakeDirectoryRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	u, ok := f.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (f *fakeDirectoryRepo) List(ctx context.Context, opts repositories.ListOptions) ([]db.User, int64, error) {
	var out []db.User
	for _, u := range f.byID {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func TestRegistrationStartVerify_HappyPath(t *testing.T) {
	svc, _ := newTestRegistrationService()
	ctx := context.Background()

	token, err := svc.Start(ctx, "newuser")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	verified, err := svc.Verify(ctx, token, "totp", "newuser@example.com", "")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.User.Username != "newuser" {
		t.Fatalf("got username %q, want newuser", verified.User.Username)
	}
	if len(verified.TOTPSecret) == 0 {
		t.Fatal("expected a non-empty TOTP secret")
	}
	if len(verified.BackupCodes) == 0 {
		t.Fatal("expected backup codes to be issued")
	}
	if verified.TOTPProvisioning == "" {
		t.Fatal("expected a provisioning URI")
	}
}

func TestRegistrationVerify_RejectsUnsupportedAuthType(t *testing.T) {
	svc, _ := newTestRegistrationService()
	ctx := context.Background()

	token, err := svc.Start(ctx, "someone")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Verify(ctx, token, "webauthn", "", ""); err != ErrUnsupportedAuthType {
		t.Fatalf("got err %v, want ErrUnsupportedAuthType", err)
	}
}

func TestRegistrationVerify_RejectsUnknownToken(t *testing.T) {
	svc, _ := newTestRegistrationService()
	ctx := context.Background()

	if _, err := svc.Verify(ctx, "not-a-real-token", "totp", "", ""); err != ErrInvalidToken {
		t.Fatalf("got err %v, want ErrInvalidToken", err)
	}
}

func TestRegistrationVerify_RejectsExpiredToken(t *testing.T) {
	svc, pending := newTestRegistrationService()
	ctx := context.Background()

	token, err := svc.Start(ctx, "stale")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, pr := range pending.byID {
		pr.ExpiresAt = time.Now().Add(-time.Minute)
	}

	if _, err := svc.Verify(ctx, token, "totp", "", ""); err != ErrInvalidToken {
		t.Fatalf("got err %v, want ErrInvalidToken", err)
	}
}

func TestRegistrationStart_RejectsInvalidUsername(t *testing.T) {
	svc, _ := newTestRegistrationService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, "abc"); !errors.Is(err, account.ErrInvalidUsername) {
		t.Fatalf("got err %v, want ErrInvalidUsername for a too-short username", err)
	}
	if _, err := svc.Start(ctx, "areallylongusername"); !errors.Is(err, account.ErrInvalidUsername) {
		t.Fatalf("got err %v, want ErrInvalidUsername for a too-long username", err)
	}
}

func TestRegistrationStart_SupersedesPriorPending(t *testing.T) {
	svc, pending := newTestRegistrationService()
	ctx := context.Background()

	first, err := svc.Start(ctx, "dupeuser")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := svc.Start(ctx, "dupeuser"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if len(pending.byID) != 1 {
		t.Fatalf("got %d pending registrations, want 1", len(pending.byID))
	}
	if _, err := svc.Verify(ctx, first, "totp", "", ""); err != ErrInvalidToken {
		t.Fatalf("got err %v, want ErrInvalidToken for superseded token", err)
	}
}
