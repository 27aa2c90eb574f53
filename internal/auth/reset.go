package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ResetSecretBytes is the entropy of a password-reset secret (256 bits).
const ResetSecretBytes = 32

// NewResetSecret returns a hex-encoded random secret for the user and the
// digest that is stored in its place.
func NewResetSecret() (secret, digest string, err error) {
	b := make([]byte, ResetSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate reset secret: %w", err)
	}
	secret = hex.EncodeToString(b)
	return secret, DigestResetSecret(secret), nil
}

// DigestResetSecret maps a secret to its stored form.
func DigestResetSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
