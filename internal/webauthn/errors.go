package webauthn

import "errors"

var (
	// ErrChallengeNotFound means the challenge is unknown, expired, or
	// already consumed.
	ErrChallengeNotFound = errors.New("webauthn: challenge not found or expired")
	// ErrClientDataMismatch covers any clientDataJSON field (type,
	// challenge, origin) that fails to match the bound ceremony.
	ErrClientDataMismatch = errors.New("webauthn: client data does not match ceremony")
	// ErrAttestationUnsupported is returned for any attestation format
	// other than "none".
	ErrAttestationUnsupported = errors.New("webauthn: unsupported attestation format")
	// ErrFlagsInvalid means the required UP/UV flags were not set.
	ErrFlagsInvalid = errors.New("webauthn: required authenticator flags not set")
	// ErrCredentialUnknown means the credential id does not match any
	// registered credential for the user.
	ErrCredentialUnknown = errors.New("webauthn: credential not recognized")
	// ErrSignatureInvalid means the assertion signature failed to verify.
	ErrSignatureInvalid = errors.New("webauthn: signature verification failed")
	// ErrCloneSuspected means the signature counter did not advance,
	// indicating the credential's private key may have been cloned.
	ErrCloneSuspected = errors.New("webauthn: clone suspected, sign counter did not advance")
)
