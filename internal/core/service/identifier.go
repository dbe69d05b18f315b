package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const identifierBytes = 8

// NewUniqueIdentifier returns a 16 character hex string drawn from the
// system's cryptographic random source.
func NewUniqueIdentifier() (string, error) {
	buf := make([]byte, identifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
