package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
)

type fakeUserRepository struct {
	byID       map[uuid.UUID]*db.User
	byUsername map[string]uuid.UUID
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{
		byID:       make(map[uuid.UUID]*db.User),
		byUsername: make(map[string]uuid.UUID),
	}
}

func (f *fakeUserRepository) Create(ctx context.Context, user *db.User) error {
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

func (f *fakeUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepository) GetByUsername(ctx context.Context, username string) (*db.User, error) {
	id, ok := f.byUsername[username]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeUserRepository) Update(ctx context.Context, user *db.User) error {
	if _, ok := f.byID[user.ID]; !ok {
		return repositories.ErrNotFound
	}
	cp := *user
	f.byID[user.ID] = &cp
	return nil
}

func (f *fakeUserRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	u, ok := f.byID[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (f *fakeUserRepository) List(ctx context.Context, opts repositories.ListOptions) ([]db.User, int64, error) {
	var out []db.User
	for _, u := range f.byID {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func TestCreate_RejectsDuplicateUsername(t *testing.T) {
	repo := newFakeUserRepository()
	dir := New(repo)

	if err := dir.Create(context.Background(), &db.User{Username: "alice"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := dir.Create(context.Background(), &db.User{Username: "alice"}); err != ErrUsernameTaken {
		t.Fatalf("got err %v, want ErrUsernameTaken", err)
	}
}

func TestGetByUsername_NotFound(t *testing.T) {
	repo := newFakeUserRepository()
	dir := New(repo)

	if _, err := dir.GetByUsername(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("got err %v, want ErrNotFound", err)
	}
}

func TestGetByUsername_Found(t *testing.T) {
	repo := newFakeUserRepository()
	dir := New(repo)
	if err := dir.Create(context.Background(), &db.User{Username: "bobby"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := dir.GetByUsername(context.Background(), "bobby")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if u.Username != "bobby" {
		t.Fatalf("got username %q, want bobby", u.Username)
	}
}

func TestCreate_RejectsUsernameTooShort(t *testing.T) {
	repo := newFakeUserRepository()
	dir := New(repo)

	if err := dir.Create(context.Background(), &db.User{Username: "abcd"}); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("got err %v, want ErrInvalidUsername", err)
	}
}

func TestCreate_RejectsUsernameTooLong(t *testing.T) {
	repo := newFakeUserRepository()
	dir := New(repo)

	if err := dir.Create(context.Background(), &db.User{Username: "abcdefghijklmnopq"}); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("got err %v, want ErrInvalidUsername", err)
	}
}

func TestCreate_RejectsNonPrintableUsername(t *testing.T) {
	repo := newFakeUserRepository()
	dir := New(repo)

	if err := dir.Create(context.Background(), &db.User{Username: "abc\x00de"}); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("got err %v, want ErrInvalidUsername", err)
	}
}

func TestRecoveryEnabled(t *testing.T) {
	cases := []struct {
		name string
		u    db.User
		want bool
	}{
		{"neither", db.User{}, false},
		{"email only", db.User{RecoveryEmail: "a@example.com"}, true},
		{"phone only", db.User{RecoveryPhone: "+15551234567"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.u.RecoveryEnabled(); got != c.want {
				t.Fatalf("RecoveryEnabled() = %v, want %v", got, c.want)
			}
		})
	}
}
