// Package securetoken produces the opaque credentials handed out in sign-in
// links, reset links, invitations and OAuth state parameters.
package securetoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Size is the number of random bytes behind every token (256 bits).
const Size = 32

// EncodedLen is the length of a generated token string.
var EncodedLen = base64.RawURLEncoding.EncodedLen(Size)

// Generate returns a URL-safe token backed by Size bytes from crypto/rand.
func Generate() (string, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the hex SHA-256 digest used to store a token at rest.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
