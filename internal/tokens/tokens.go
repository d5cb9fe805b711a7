// Package tokens generates opaque bearer tokens and their SHA-256 hashes,
// the representation used for sessions, pending registrations, and pending
// recoveries alike: the raw value crosses the trust boundary exactly once
// (cookie, email link) and only its hash is ever persisted.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// rawLen is the amount of randomness in a token before hex-encoding.
const rawLen = 32

// Generate returns a fresh random token and its SHA-256 hex digest.
func Generate() (token, hash string, err error) {
	raw := make([]byte, rawLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("tokens: generate: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, Hash(token), nil
}

// Hash returns the SHA-256 hex digest of a raw token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
