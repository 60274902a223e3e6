// Package idgen generates random identifiers for award records, review
// prompts, admin grants and requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Prefixes for the identifiers the engine mints.
const (
	PrefixAward  = "awd_"
	PrefixSignal = "sig_"
	PrefixGrant  = "grant_"
)

// randomBytes is the entropy behind WithPrefix.
const randomBytes = 12

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix returns prefix followed by 24 random hex chars.
func WithPrefix(prefix string) string {
	return prefix + randomHex(randomBytes)
}

// RequestID returns a 32 hex char id for X-Request-ID.
func RequestID() string {
	return randomHex(16)
}

// HasPrefix reports whether id was minted by WithPrefix(prefix).
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != 2*randomBytes {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
