// Package backupcodes implements single-use account-recovery codes:
// generation, display formatting, and Argon2id-backed hashing with
// self-describing parameter strings so future re-tuning never requires a
// forced reset.
package backupcodes

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/audiobooks/authd/internal/metrics"
)

// Count is the number of backup codes issued per user.
const Count = 8

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// codeRawLen is the number of alphabet characters in a generated code,
// grouped into 4 blocks of 4 for display (XXXX-XXXX-XXXX-XXXX).
const codeRawLen = 16

// Argon2id parameters. Each hash records them in its encoded form, so
// Verify checks a hash with the parameters it was made with.
const (
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Generate returns Count freshly generated plaintext codes, formatted for
// display. This is the only place plaintext codes exist — callers must
// hash them via Hash before persisting and must not log the return value.
func Generate() ([]string, error) {
	codes := make([]string, Count)
	for i := range codes {
		code, err := generateOne()
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func generateOne() (string, error) {
	raw := make([]byte, codeRawLen)
	idx := make([]byte, codeRawLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("backupcodes: generate: %w", err)
	}
	for i, b := range raw {
		idx[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return formatForDisplay(string(idx)), nil
}

func formatForDisplay(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize strips whitespace and hyphens and uppercases a user-supplied
// code, so "abcd efgh-ijkl-mnop" and "ABCD-EFGH-IJKL-MNOP" hash identically.
func Normalize(code string) string {
	code = strings.ToUpper(code)
	code = strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, code)
	return code
}

// Hash derives a PHC-like encoded Argon2id hash for a normalized code. The
// parameters travel with the hash so verification never needs to assume a
// fixed tuning.
func Hash(normalizedCode string) (string, error) {
	start := time.Now()
	defer func() { metrics.BackupCodeKDFDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds()) }()

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("backupcodes: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(normalizedCode), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether normalizedCode matches the given PHC-like hash, in
// constant time. A malformed hash verifies as false rather than erroring,
// since callers treat "no match" and "corrupt record" identically.
func Verify(normalizedCode, encodedHash string) bool {
	start := time.Now()
	defer func() { metrics.BackupCodeKDFDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds()) }()

	memory, time_, threads, salt, want, ok := parseHash(encodedHash)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(normalizedCode), salt, time_, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func parseHash(encoded string) (memory uint32, time_ uint32, threads uint8, salt, hash []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return 0, 0, 0, nil, nil, false
	}
	var mem, t, p uint32
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &mem, &t, &p); err != nil {
		return 0, 0, 0, nil, nil, false
	}
	s, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return 0, 0, 0, nil, nil, false
	}
	h, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, false
	}
	return mem, t, uint8(p), s, h, true
}
