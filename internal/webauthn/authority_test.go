package webauthn_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/audiobooks/authd/internal/webauthn"
	"github.com/audiobooks/authd/internal/webauthn/testauth"
)

type memChallengeStore struct {
	byKey map[string]struct {
		raw       []byte
		expiresAt time.Time
	}
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{byKey: make(map[string]struct {
		raw       []byte
		expiresAt time.Time
	})}
}

func challengeKey(userID uuid.UUID, purpose string) string { return userID.String() + "/" + purpose }

func (m *memChallengeStore) Create(_ context.Context, userID uuid.UUID, purpose string, raw []byte, expiresAt time.Time) error {
	m.byKey[challengeKey(userID, purpose)] = struct {
		raw       []byte
		expiresAt time.Time
	}{raw, expiresAt}
	return nil
}

func (m *memChallengeStore) Consume(_ context.Context, userID uuid.UUID, purpose string, raw []byte, now time.Time) (bool, error) {
	entry, ok := m.byKey[challengeKey(userID, purpose)]
	if !ok {
		return false, nil
	}
	delete(m.byKey, challengeKey(userID, purpose))
	if now.After(entry.expiresAt) {
		return false, nil
	}
	return bytes.Equal(entry.raw, raw), nil
}

type memCredentialStore struct {
	byID map[string]*webauthn.Credential
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{byID: make(map[string]*webauthn.Credential)}
}

func (m *memCredentialStore) Create(_ context.Context, cred *webauthn.Credential) error {
	if cred.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		cred.ID = id
	}
	c := *cred
	m.byID[string(cred.CredentialID)] = &c
	return nil
}

func (m *memCredentialStore) GetByCredentialID(_ context.Context, credentialID []byte) (*webauthn.Credential, error) {
	c, ok := m.byID[string(credentialID)]
	if !ok {
		return nil, webauthn.ErrCredentialUnknown
	}
	cp := *c
	return &cp, nil
}

func (m *memCredentialStore) UpdateSignCount(_ context.Context, id uuid.UUID, newCount uint32) error {
	for _, c := range m.byID {
		if c.ID == id {
			c.SignCount = newCount
		}
	}
	return nil
}

func (m *memCredentialStore) Revoke(_ context.Context, id uuid.UUID) error {
	for _, c := range m.byID {
		if c.ID == id {
			c.Revoked = true
		}
	}
	return nil
}

type memSessionInvalidator struct{ invalidated []uuid.UUID }

func (m *memSessionInvalidator) InvalidateUserSessions(_ context.Context, userID uuid.UUID) error {
	m.invalidated = append(m.invalidated, userID)
	return nil
}

func newTestAuthority() (*webauthn.Authority, *memCredentialStore, *memSessionInvalidator) {
	creds := newMemCredentialStore()
	sessions := &memSessionInvalidator{}
	return &webauthn.Authority{
		RPID:        "localhost",
		Origin:      "http://localhost:8080",
		Challenges:  newMemChallengeStore(),
		Credentials: creds,
		Sessions:    sessions,
	}, creds, sessions
}

func TestRegistrationAndAuthentication_HappyPath(t *testing.T) {
	ctx := context.Background()
	authority, creds, _ := newTestAuthority()
	auth := testauth.New()
	userID := uuid.Must(uuid.NewV7())

	challenge, err := authority.IssueChallenge(ctx, userID, webauthn.PurposeRegister)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	regResp, err := auth.MakeCredential("localhost", "http://localhost:8080", challenge)
	if err != nil {
		t.Fatalf("MakeCredential: %v", err)
	}
	cred, err := authority.VerifyRegistration(ctx, userID, regResp)
	if err != nil {
		t.Fatalf("VerifyRegistration: %v", err)
	}
	if err := creds.Create(ctx, cred); err != nil {
		t.Fatalf("persist credential: %v", err)
	}

	authChallenge, err := authority.IssueChallenge(ctx, userID, webauthn.PurposeAuthenticate)
	if err != nil {
		t.Fatalf("IssueChallenge (auth): %v", err)
	}
	assertResp, err := auth.GetAssertion("localhost", "http://localhost:8080", authChallenge, cred.CredentialID, true)
	if err != nil {
		t.Fatalf("GetAssertion: %v", err)
	}
	if _, err := authority.VerifyAuthentication(ctx, userID, assertResp); err != nil {
		t.Fatalf("VerifyAuthentication: %v", err)
	}
}

func TestVerifyAuthentication_CloneSuspected(t *testing.T) {
	ctx := context.Background()
	authority, creds, sessions := newTestAuthority()
	auth := testauth.New()
	userID := uuid.Must(uuid.NewV7())

	challenge, _ := authority.IssueChallenge(ctx, userID, webauthn.PurposeRegister)
	regResp, _ := auth.MakeCredential("localhost", "http://localhost:8080", challenge)
	cred, err := authority.VerifyRegistration(ctx, userID, regResp)
	if err != nil {
		t.Fatalf("VerifyRegistration: %v", err)
	}
	_ = creds.Create(ctx, cred)

	// First authentication advances the counter normally.
	c1, _ := authority.IssueChallenge(ctx, userID, webauthn.PurposeAuthenticate)
	resp1, _ := auth.GetAssertion("localhost", "http://localhost:8080", c1, cred.CredentialID, true)
	if _, err := authority.VerifyAuthentication(ctx, userID, resp1); err != nil {
		t.Fatalf("first VerifyAuthentication: %v", err)
	}

	// Simulate a cloned authenticator replaying the same (non-advancing)
	// counter value.
	c2, _ := authority.IssueChallenge(ctx, userID, webauthn.PurposeAuthenticate)
	resp2, _ := auth.GetAssertion("localhost", "http://localhost:8080", c2, cred.CredentialID, false)
	_, err = authority.VerifyAuthentication(ctx, userID, resp2)
	if err != webauthn.ErrCloneSuspected {
		t.Fatalf("VerifyAuthentication = %v, want ErrCloneSuspected", err)
	}
	if len(sessions.invalidated) != 1 || sessions.invalidated[0] != userID {
		t.Fatalf("expected sessions invalidated for %s, got %v", userID, sessions.invalidated)
	}
}

func TestVerifyRegistration_WrongChallengeRejected(t *testing.T) {
	ctx := context.Background()
	authority, _, _ := newTestAuthority()
	auth := testauth.New()
	userID := uuid.Must(uuid.NewV7())

	_, err := authority.IssueChallenge(ctx, userID, webauthn.PurposeRegister)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	// Use a fabricated challenge instead of the issued one.
	bogus := bytes.Repeat([]byte{0x42}, 32)
	regResp, err := auth.MakeCredential("localhost", "http://localhost:8080", bogus)
	if err != nil {
		t.Fatalf("MakeCredential: %v", err)
	}
	if _, err := authority.VerifyRegistration(ctx, userID, regResp); err != webauthn.ErrChallengeNotFound {
		t.Fatalf("VerifyRegistration = %v, want ErrChallengeNotFound", err)
	}
}
