package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// refreshTokenBytes gives 384 bits of entropy, comfortably above the 256-bit
// floor for an unguessable bearer secret.
const refreshTokenBytes = 48

// NewRefreshToken returns an opaque refresh secret safe for cookie transport.
func NewRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken derives the storable lookup key for a refresh secret. The
// pepper keeps a leaked sessions table from being matched against captured
// tokens offline.
func HashRefreshToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + pepper))
	return hex.EncodeToString(sum[:])
}
