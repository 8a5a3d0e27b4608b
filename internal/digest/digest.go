// Package digest hashes shared practice secrets.
//
// The digest is a plain unsalted SHA-256 so that every client computes the
// same value for the same secret. It is a shared-secret check for keeping
// casual visitors out of a practice, not a password store.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex SHA-256 of text.
func Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether secret hashes to want.
func Matches(want, secret string) bool {
	return Hex(secret) == want
}
