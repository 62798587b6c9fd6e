// Package contribution derives Contribution-ID values, the identifiers that
// tie every message and report of one chat conversation together.
package contribution

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

// Size of a contribution ID in bytes.
const Size = 16

// Generator computes contribution IDs with a key derived from the device
// secret.
type Generator struct {
	key []byte
}

// NewGenerator derives the HMAC key from deviceID.
func NewGenerator(deviceID string) (*Generator, error) {
	if deviceID == "" {
		return nil, errors.New("contribution: empty device id")
	}
	sum := sha1.Sum([]byte(deviceID))
	return &Generator{key: sum[:]}, nil
}

// Generate returns the contribution ID for a dialog Call-ID as 32 lowercase
// hex characters.
func (g *Generator) Generate(callID string) string {
	mac := hmac.New(sha1.New, g.key)
	mac.Write([]byte(callID))
	return hex.EncodeToString(mac.Sum(nil)[:Size])
}
