package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character hex string from random bytes, used for
// message and chunk identifiers.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
