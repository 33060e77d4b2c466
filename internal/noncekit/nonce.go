// Package noncekit generates and validates the one-time daemon nonce that
// authenticates a worker's writes to the chunk ingester (§6).
package noncekit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Nonce is a 32-character lowercase hex one-time secret.
type Nonce string

var nonceRegex = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Generate creates a new random 32-hex-character nonce.
func Generate() (Nonce, error) {
	buf := make([]byte, 16) // 16 bytes = 32 hex chars
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return Nonce(hex.EncodeToString(buf)), nil
}

// Validate reports whether s is a well-formed nonce.
func Validate(s string) error {
	if !nonceRegex.MatchString(s) {
		return fmt.Errorf("invalid nonce: must be 32 lowercase hex characters")
	}
	return nil
}

// Equal performs a constant-time comparison between the nonce and a
// caller-supplied candidate, so the ingester's nonce check does not leak
// timing information about where the mismatch occurred.
func (n Nonce) Equal(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(n), []byte(candidate)) == 1
}

// String returns the nonce as a plain string.
func (n Nonce) String() string {
	return string(n)
}
