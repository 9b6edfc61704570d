package token

import (
	"crypto/rand"
	"encoding/base64"
)

// SecretBytes is the entropy of a raw refresh secret. 64 bytes keeps the
// encoded form well above the 256-bit floor while staying cookie-friendly.
const SecretBytes = 64

// NewSecret returns a URL-safe random refresh secret. The caller hands it
// out exactly once; only derived hashes are ever persisted.
func NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
