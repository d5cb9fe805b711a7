// Package totp implements RFC 6238 time-based one-time passwords: secret
// generation, provisioning URI construction, and code verification with a
// bounded clock-skew window.
package totp

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// SecretLen is the raw secret size in bytes. 160 bits matches
	// HMAC-SHA1's native key size.
	SecretLen = 20
	// Digits is the number of digits in a generated code.
	Digits = 6
	// Period is the TOTP step length.
	Period = 30 * time.Second
	// SkewSteps is the number of steps tolerated on either side of the
	// current one, to absorb clock drift between client and server.
	SkewSteps = 1
)

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh random TOTP secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("totp: generate secret: %w", err)
	}
	return secret, nil
}

// SecretToBase32 encodes a raw secret as unpadded base32, the form used in
// provisioning URIs and shown to users for manual entry.
func SecretToBase32(secret []byte) string {
	return base32Encoding.EncodeToString(secret)
}

// SecretFromBase32 decodes a base32-encoded secret back to raw bytes.
func SecretFromBase32(s string) ([]byte, error) {
	return base32Encoding.DecodeString(strings.ToUpper(s))
}

// ProvisioningURI builds the otpauth:// URI consumed by authenticator apps.
func ProvisioningURI(issuer, account string, secret []byte) string {
	v := url.Values{}
	v.Set("secret", SecretToBase32(secret))
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", fmt.Sprintf("%d", Digits))
	v.Set("period", fmt.Sprintf("%d", int(Period.Seconds())))

	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, account))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, v.Encode())
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(Period.Seconds()),
		Skew:      SkewSteps,
		Digits:    otp.Digits(Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// CurrentCode derives the code for the given time step. Intended for tests
// and the software authenticator; never exposed over HTTP.
func CurrentCode(secret []byte, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(SecretToBase32(secret), at, validateOpts())
	if err != nil {
		return "", fmt.Errorf("totp: generate code: %w", err)
	}
	return code, nil
}

// Verify checks code against the secret at time "at", allowing the
// configured clock-skew window. Returns false on any malformed input
// without distinguishing the reason (callers must not leak which).
func Verify(secret []byte, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false
	}
	ok, err := totp.ValidateCustom(code, SecretToBase32(secret), at, validateOpts())
	if err != nil {
		return false
	}
	return ok
}
