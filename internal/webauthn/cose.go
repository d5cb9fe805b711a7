package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE_Key map labels for an EC2/P-256/ES256 key, per RFC 8152 §13.1.
const (
	coseKeyType   = 1
	coseAlgorithm = 3
	coseCurve     = -1
	coseX         = -2
	coseY         = -3

	coseKeyTypeEC2  = 2
	coseAlgES256    = -7
	coseCurveP256   = 1
)

// coseKey is the CBOR map shape {1:2, 3:-7, -1:1, -2:x, -3:y}. Map keys
// are ints, so the struct fields carry keyasint tags.
type coseKey struct {
	KeyType   int    `cbor:"1,keyasint"`
	Algorithm int    `cbor:"3,keyasint"`
	Curve     int    `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

// EncodePublicKey encodes an ECDSA P-256 public key as a CBOR COSE_Key.
func EncodePublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("webauthn: only P-256 keys are supported")
	}
	key := coseKey{
		KeyType:   coseKeyTypeEC2,
		Algorithm: coseAlgES256,
		Curve:     coseCurveP256,
		X:         pub.X.FillBytes(make([]byte, 32)),
		Y:         pub.Y.FillBytes(make([]byte, 32)),
	}
	return cbor.Marshal(key)
}

// DecodePublicKey decodes a CBOR COSE_Key back into an ECDSA P-256 public key.
func DecodePublicKey(encoded []byte) (*ecdsa.PublicKey, error) {
	var key coseKey
	if err := cbor.Unmarshal(encoded, &key); err != nil {
		return nil, fmt.Errorf("webauthn: decode COSE key: %w", err)
	}
	if key.KeyType != coseKeyTypeEC2 || key.Algorithm != coseAlgES256 || key.Curve != coseCurveP256 {
		return nil, fmt.Errorf("webauthn: unsupported COSE key type/alg/curve")
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(key.X),
		Y:     new(big.Int).SetBytes(key.Y),
	}, nil
}

// attestationObject mirrors the CBOR map {"fmt","attStmt","authData"}. Only
// the "none" format is accepted.
type attestationObject struct {
	Fmt      string                 `cbor:"fmt"`
	AttStmt  map[string]interface{} `cbor:"attStmt"`
	AuthData []byte                 `cbor:"authData"`
}

// DecodeAttestationObject parses a CBOR-encoded attestationObject and
// rejects any attestation format other than "none".
func DecodeAttestationObject(encoded []byte) ([]byte, error) {
	var obj attestationObject
	if err := cbor.Unmarshal(encoded, &obj); err != nil {
		return nil, fmt.Errorf("webauthn: decode attestation object: %w", err)
	}
	if obj.Fmt != "none" {
		return nil, ErrAttestationUnsupported
	}
	return obj.AuthData, nil
}

// EncodeAttestationObject builds a "none"-format attestationObject. Used by
// the software authenticator to produce registration responses.
func EncodeAttestationObject(authData []byte) ([]byte, error) {
	obj := attestationObject{
		Fmt:      "none",
		AttStmt:  map[string]interface{}{},
		AuthData: authData,
	}
	return cbor.Marshal(obj)
}
