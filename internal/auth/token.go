// internal/auth/token.go
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewShareToken returns a URL-safe token used in spectator/captain invite links.
func NewShareToken() (string, error) {
	return randomHex(16)
}

// NewReclaimToken returns a token a captain stores client-side to reclaim
// their seat after a disconnect. Tokens rotate on every successful claim.
func NewReclaimToken() (string, error) {
	return randomHex(24)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
