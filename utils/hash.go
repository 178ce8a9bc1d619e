package utils

import (
	"crypto/sha1"
	"encoding/hex"
)

// MakeHash returns hash string from plain text
func MakeHash(s string) string {
	hash := sha1.New()
	hash.Write([]byte(s))
	hashBytes := hash.Sum(nil)
	return hex.EncodeToString(hashBytes)
}

// MakeScriptIdentifier returns the identifier a coordination server derives
// for a script body (SHA1 hex, same as SCRIPT LOAD)
func MakeScriptIdentifier(body string) string {
	return MakeHash(body)
}
