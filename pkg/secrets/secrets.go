// Package secrets generates random secrets and computes HMAC-SHA256
// signatures for webhook deliveries and API keys.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// APIKeyBytes is the random length for API key secrets (48 hex chars)
	APIKeyBytes = 24
	// WebhookSecretBytes is the random length for webhook signing secrets (32 hex chars)
	WebhookSecretBytes = 16
)

// GenerateSecret returns n cryptographically random bytes, hex encoded.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("secret length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
// The payload must be the exact byte sequence sent on the wire; signing a
// re-serialization breaks receiver verification.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature for payload and compares it against the
// provided one in constant time.
func Verify(payload []byte, signature, secret string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
