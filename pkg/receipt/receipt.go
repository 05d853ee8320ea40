// Package receipt defines the ballot receipt handle format.
//
// Handle format: uvr1_[64 lowercase hex chars]
//
// Example:
//
//	uvr1_9f2c4e8a1b3d5f7090a1b2c3d4e5f60718293a4b5c6d7e8f9012345678abcdef
//
// The hex portion is the ballot's ledger entry hash. The uvr1 prefix names
// the format version so a future hash change can issue distinguishable
// handles. A handle proves that a ballot is included in the chain; it reveals
// nothing about the ballot's content or the voter who cast it.
package receipt

import (
	"fmt"
	"strings"
)

const (
	prefix  = "uvr1_"
	hashLen = 64
)

// FromHash wraps a ledger entry hash in a receipt handle.
func FromHash(entryHash string) string {
	return prefix + entryHash
}

// Parse validates a receipt handle and returns the embedded entry hash.
func Parse(handle string) (string, error) {
	if !strings.HasPrefix(handle, prefix) {
		return "", fmt.Errorf("receipt handle must start with %q", prefix)
	}
	h := strings.TrimPrefix(handle, prefix)
	if len(h) != hashLen {
		return "", fmt.Errorf("receipt hash must be %d characters, got %d", hashLen, len(h))
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("receipt hash contains invalid character %q", c)
		}
	}
	return h, nil
}
