// Package auth checks the bearer token that guards the API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether token hashes to wantHash, compared in constant time.
func Verify(token, wantHash string) bool {
	got := HashKey(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHash)) == 1
}
