// Package testauth implements a deterministic client-side WebAuthn
// authenticator for use in tests only. It is a direct port of the
// reference test helper's structure (in-memory credential map, same CBOR
// field layout for COSE keys and attestation objects) and has no path
// reachable from the HTTP gateway.
package testauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/audiobooks/authd/internal/webauthn"
)

type credential struct {
	privateKey *ecdsa.PrivateKey
	rpID       string
	signCount  uint32
}

// SoftwareAuthenticator emulates a platform authenticator for end-to-end
// tests that exercise the server's WebAuthn ceremonies without real
// hardware.
type SoftwareAuthenticator struct {
	credentials map[string]*credential // keyed by base64url(credentialID)
}

// New returns an empty software authenticator.
func New() *SoftwareAuthenticator {
	return &SoftwareAuthenticator{credentials: make(map[string]*credential)}
}

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// MakeCredential performs the client side of registration: generates a P-256
// key pair, stores it keyed by a fresh random credential id, and returns the
// response the server's VerifyRegistration expects.
func (s *SoftwareAuthenticator) MakeCredential(rpID, origin string, challenge []byte) (webauthn.RegistrationResponse, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return webauthn.RegistrationResponse{}, fmt.Errorf("testauth: generate key: %w", err)
	}

	credID := make([]byte, 16)
	if _, err := rand.Read(credID); err != nil {
		return webauthn.RegistrationResponse{}, fmt.Errorf("testauth: generate credential id: %w", err)
	}
	credIDStr := base64.RawURLEncoding.EncodeToString(credID)
	s.credentials[credIDStr] = &credential{privateKey: priv, rpID: rpID, signCount: 0}

	pubCBOR, err := webauthn.EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return webauthn.RegistrationResponse{}, err
	}

	authData := webauthn.BuildAuthData(rpID, webauthn.FlagsRegistration, 0, make([]byte, 16), credID, pubCBOR)
	attObj, err := webauthn.EncodeAttestationObject(authData)
	if err != nil {
		return webauthn.RegistrationResponse{}, err
	}

	cd := clientData{
		Type:      "webauthn.create",
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	}
	cdJSON, err := json.Marshal(cd)
	if err != nil {
		return webauthn.RegistrationResponse{}, err
	}

	return webauthn.RegistrationResponse{
		ClientDataJSON:    cdJSON,
		AttestationObject: attObj,
	}, nil
}

// GetAssertion performs the client side of authentication against a
// previously created credential, returning the response the server's
// VerifyAuthentication expects. advanceCounter lets tests simulate an
// authenticator whose counter fails to advance (clone scenario).
func (s *SoftwareAuthenticator) GetAssertion(rpID, origin string, challenge []byte, credentialID []byte, advanceCounter bool) (webauthn.AuthenticationResponse, error) {
	credIDStr := base64.RawURLEncoding.EncodeToString(credentialID)
	cred, ok := s.credentials[credIDStr]
	if !ok {
		return webauthn.AuthenticationResponse{}, fmt.Errorf("testauth: unknown credential")
	}

	newCount := cred.signCount
	if advanceCounter {
		newCount++
	}

	authData := webauthn.BuildAuthData(rpID, webauthn.FlagsAuthentication, newCount, nil, nil, nil)

	cd := clientData{
		Type:      "webauthn.get",
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	}
	cdJSON, err := json.Marshal(cd)
	if err != nil {
		return webauthn.AuthenticationResponse{}, err
	}
	clientDataHash := sha256.Sum256(cdJSON)
	signedPayload := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signedPayload)

	sig, err := ecdsa.SignASN1(rand.Reader, cred.privateKey, digest[:])
	if err != nil {
		return webauthn.AuthenticationResponse{}, fmt.Errorf("testauth: sign assertion: %w", err)
	}

	cred.signCount = newCount

	return webauthn.AuthenticationResponse{
		CredentialID:      credentialID,
		ClientDataJSON:    cdJSON,
		AuthenticatorData: authData,
		Signature:         sig,
	}, nil
}
