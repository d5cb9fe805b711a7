package webauthn

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	flagUP uint8 = 0x01 // user present
	flagUV uint8 = 0x04 // user verified
	flagAT uint8 = 0x40 // attested credential data included
)

// authDataFields is the parsed form of the authData byte string.
type authDataFields struct {
	RPIDHash     []byte
	Flags        uint8
	SignCount    uint32
	AAGUID       []byte
	CredentialID []byte
	PublicKey    []byte // raw CBOR COSE_Key, only set when AT flag is present
}

// parseAuthData splits the fixed-size header from the optional attested
// credential data block.
func parseAuthData(data []byte) (*authDataFields, error) {
	if len(data) < 37 {
		return nil, fmt.Errorf("webauthn: authData too short (%d bytes)", len(data))
	}
	f := &authDataFields{
		RPIDHash:  data[0:32],
		Flags:     data[32],
		SignCount: binary.BigEndian.Uint32(data[33:37]),
	}
	if f.Flags&flagAT == 0 {
		return f, nil
	}

	rest := data[37:]
	if len(rest) < 18 {
		return nil, fmt.Errorf("webauthn: attested credential data truncated")
	}
	f.AAGUID = rest[0:16]
	credIDLen := binary.BigEndian.Uint16(rest[16:18])
	rest = rest[18:]
	if len(rest) < int(credIDLen) {
		return nil, fmt.Errorf("webauthn: credential id truncated")
	}
	f.CredentialID = rest[:credIDLen]
	f.PublicKey = rest[credIDLen:]
	return f, nil
}

// buildAuthData constructs the authData byte string. Used by the software
// authenticator to produce registration/authentication responses.
func buildAuthData(rpID string, flags uint8, signCount uint32, aaguid, credentialID, cosePublicKey []byte) []byte {
	rpIDHash := sha256.Sum256([]byte(rpID))

	buf := make([]byte, 0, 37+16+2+len(credentialID)+len(cosePublicKey))
	buf = append(buf, rpIDHash[:]...)
	buf = append(buf, flags)
	counter := make([]byte, 4)
	binary.BigEndian.PutUint32(counter, signCount)
	buf = append(buf, counter...)

	if flags&flagAT != 0 {
		buf = append(buf, aaguid...)
		credLen := make([]byte, 2)
		binary.BigEndian.PutUint16(credLen, uint16(len(credentialID)))
		buf = append(buf, credLen...)
		buf = append(buf, credentialID...)
		buf = append(buf, cosePublicKey...)
	}
	return buf
}

func rpIDHash(rpID string) []byte {
	h := sha256.Sum256([]byte(rpID))
	return h[:]
}

// Authenticator flag bytes, exported for the test-only software
// authenticator (internal/webauthn/testauth).
const (
	FlagsRegistration  = flagUP | flagUV | flagAT // 0x45
	FlagsAuthentication = flagUP | flagUV          // 0x05
)

// BuildAuthData exposes buildAuthData for the test-only software
// authenticator; it has no other caller outside this package.
func BuildAuthData(rpID string, flags uint8, signCount uint32, aaguid, credentialID, cosePublicKey []byte) []byte {
	return buildAuthData(rpID, flags, signCount, aaguid, credentialID, cosePublicKey)
}
