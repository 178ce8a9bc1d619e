package utils

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/xerrors"
)

// MakeLockToken returns a random 128bit hex token identifying a lock acquisition.
// Two processes must never collide, so this always draws from crypto/rand.
func MakeLockToken() (string, error) {
	buffer := make([]byte, 16)
	_, err := rand.Read(buffer)
	if err != nil {
		return "", xerrors.Errorf("failed to read random bytes for lock token: %w", err)
	}

	return hex.EncodeToString(buffer), nil
}
