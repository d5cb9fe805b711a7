// Package webauthn implements the server side of the WebAuthn/FIDO2
// registration (make-credential) and authentication (get-assertion)
// ceremonies: challenge issuance, clientDataJSON and attestation/assertion
// verification, and sign-counter clone detection.
//
// Attestation formats other than "none" are rejected. COSE_Key and
// attestationObject encoding use github.com/fxamacker/cbor/v2; signature
// verification uses stdlib crypto/ecdsa.
package webauthn

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengeTTL is how long an issued challenge remains redeemable.
const ChallengeTTL = 5 * time.Minute

const (
	PurposeRegister      = "register"
	PurposeAuthenticate  = "authenticate"
)

// Challenge is a server-bound ceremony challenge.
type Challenge struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Purpose   string
	Raw       []byte
	ExpiresAt time.Time
}

// Credential is a registered public-key credential.
type Credential struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CredentialID []byte
	PublicKeyCBOR []byte
	SignCount    uint32
	Revoked      bool
}

// ChallengeStore persists and redeems ceremony challenges.
type ChallengeStore interface {
	Create(ctx context.Context, userID uuid.UUID, purpose string, raw []byte, expiresAt time.Time) error
	Consume(ctx context.Context, userID uuid.UUID, purpose string, raw []byte, now time.Time) (bool, error)
}

// CredentialStore persists registered credentials.
type CredentialStore interface {
	Create(ctx context.Context, cred *Credential) error
	GetByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error)
	UpdateSignCount(ctx context.Context, id uuid.UUID, newCount uint32) error
	Revoke(ctx context.Context, id uuid.UUID) error
}

// SessionInvalidator invalidates all of a user's sessions, used when a
// clone is detected.
type SessionInvalidator interface {
	InvalidateUserSessions(ctx context.Context, userID uuid.UUID) error
}

// Authority issues challenges and verifies ceremonies for a single relying
// party.
type Authority struct {
	RPID        string
	Origin      string
	Challenges  ChallengeStore
	Credentials CredentialStore
	Sessions    SessionInvalidator
}

// clientData is the subset of clientDataJSON this authority checks.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// IssueChallenge generates and persists a new ceremony challenge.
func (a *Authority) IssueChallenge(ctx context.Context, userID uuid.UUID, purpose string) ([]byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("webauthn: generate challenge: %w", err)
	}
	if err := a.Challenges.Create(ctx, userID, purpose, raw, time.Now().Add(ChallengeTTL)); err != nil {
		return nil, fmt.Errorf("webauthn: persist challenge: %w", err)
	}
	return raw, nil
}

// RegistrationResponse is what the client submits to complete registration.
type RegistrationResponse struct {
	ClientDataJSON    []byte
	AttestationObject []byte
}

// VerifyRegistration validates a make-credential response and returns the
// credential to persist. It does not persist it itself — callers decide the
// transaction boundary (e.g. alongside creating the User row).
func (a *Authority) VerifyRegistration(ctx context.Context, userID uuid.UUID, resp RegistrationResponse) (*Credential, error) {
	cd, err := a.verifyClientData(ctx, userID, PurposeRegister, resp.ClientDataJSON, "webauthn.create")
	if err != nil {
		return nil, err
	}
	_ = cd

	authData, err := DecodeAttestationObject(resp.AttestationObject)
	if err != nil {
		return nil, err
	}
	fields, err := parseAuthData(authData)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(fields.RPIDHash, rpIDHash(a.RPID)) != 1 {
		return nil, ErrClientDataMismatch
	}
	if fields.Flags&flagUP == 0 || fields.Flags&flagUV == 0 {
		return nil, ErrFlagsInvalid
	}
	if len(fields.PublicKey) == 0 {
		return nil, fmt.Errorf("webauthn: attested credential data missing public key")
	}
	if _, err := DecodePublicKey(fields.PublicKey); err != nil {
		return nil, err
	}

	return &Credential{
		UserID:        userID,
		CredentialID:  fields.CredentialID,
		PublicKeyCBOR: fields.PublicKey,
		SignCount:     fields.SignCount,
	}, nil
}

// AuthenticationResponse is what the client submits to complete an
// authentication ceremony.
type AuthenticationResponse struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
}

// VerifyAuthentication validates a get-assertion response, advances the
// credential's sign counter, and returns the matched credential. If a clone
// is suspected (sign count did not advance), the credential is revoked, the
// user's sessions are invalidated, and ErrCloneSuspected is returned.
func (a *Authority) VerifyAuthentication(ctx context.Context, userID uuid.UUID, resp AuthenticationResponse) (*Credential, error) {
	if _, err := a.verifyClientData(ctx, userID, PurposeAuthenticate, resp.ClientDataJSON, "webauthn.get"); err != nil {
		return nil, err
	}

	cred, err := a.Credentials.GetByCredentialID(ctx, resp.CredentialID)
	if err != nil {
		return nil, ErrCredentialUnknown
	}
	if cred.Revoked || cred.UserID != userID {
		return nil, ErrCredentialUnknown
	}

	fields, err := parseAuthData(resp.AuthenticatorData)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(fields.RPIDHash, rpIDHash(a.RPID)) != 1 {
		return nil, ErrClientDataMismatch
	}
	if fields.Flags&flagUP == 0 || fields.Flags&flagUV == 0 {
		return nil, ErrFlagsInvalid
	}

	pub, err := DecodePublicKey(cred.PublicKeyCBOR)
	if err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(resp.ClientDataJSON)
	signedPayload := append(append([]byte{}, resp.AuthenticatorData...), clientDataHash[:]...)
	digest := sha256.Sum256(signedPayload)

	if !verifyECDSASignature(pub, digest[:], resp.Signature) {
		return nil, ErrSignatureInvalid
	}

	// A signature counter of 0 signals an authenticator that does not
	// implement counters at all (permitted by the spec); only enforce
	// monotonicity once the authenticator has reported a nonzero count.
	if fields.SignCount != 0 && fields.SignCount <= cred.SignCount {
		_ = a.Credentials.Revoke(ctx, cred.ID)
		if a.Sessions != nil {
			_ = a.Sessions.InvalidateUserSessions(ctx, userID)
		}
		return nil, ErrCloneSuspected
	}

	if err := a.Credentials.UpdateSignCount(ctx, cred.ID, fields.SignCount); err != nil {
		return nil, fmt.Errorf("webauthn: update sign count: %w", err)
	}
	cred.SignCount = fields.SignCount
	return cred, nil
}

func (a *Authority) verifyClientData(ctx context.Context, userID uuid.UUID, purpose string, raw []byte, wantType string) (*clientData, error) {
	var cd clientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, fmt.Errorf("webauthn: decode clientDataJSON: %w", err)
	}
	if cd.Type != wantType {
		return nil, ErrClientDataMismatch
	}
	if cd.Origin != a.Origin {
		return nil, ErrClientDataMismatch
	}
	challengeBytes, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return nil, fmt.Errorf("webauthn: decode challenge: %w", err)
	}
	ok, err := a.Challenges.Consume(ctx, userID, purpose, challengeBytes, time.Now())
	if err != nil {
		return nil, fmt.Errorf("webauthn: consume challenge: %w", err)
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &cd, nil
}

func verifyECDSASignature(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	return ecdsa.VerifyASN1(pub, digest, sig)
}
