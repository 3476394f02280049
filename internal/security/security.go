// Package security provides the deterministic hashing and token derivation
// primitives behind per-bottle QR codes. A leaked database only holds token
// hashes, so valid codes cannot be enumerated without the original plaintext
// tokens or the server-held HMAC secret.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSecretMissing indicates the QR token secret is not configured. It is a
// server-side configuration fault, never a client input problem.
var ErrSecretMissing = errors.New("QR_TOKEN_SECRET is required")

// TokenCrypto derives identifiers and token digests
type TokenCrypto struct {
	qrTokenSecret string
}

// New creates a TokenCrypto. The secret may be empty; operations that need it
// fail closed with ErrSecretMissing.
func New(qrTokenSecret string) *TokenCrypto {
	return &TokenCrypto{qrTokenSecret: qrTokenSecret}
}

// Hash returns the hex-encoded SHA-256 digest of value
func (t *TokenCrypto) Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// GenerateID returns a globally-unique opaque identifier in the form
// "<prefix>_<uuid>"
func (t *TokenCrypto) GenerateID(prefix string) string {
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// RequireSecret fails when the QR token secret is unset
func (t *TokenCrypto) RequireSecret() error {
	if t.qrTokenSecret == "" {
		return ErrSecretMissing
	}
	return nil
}

// QRToken returns the hex-encoded HMAC-SHA256 of bottleID keyed by the
// server-held QR token secret
func (t *TokenCrypto) QRToken(bottleID string) (string, error) {
	if err := t.RequireSecret(); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(t.qrTokenSecret))
	mac.Write([]byte(bottleID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
