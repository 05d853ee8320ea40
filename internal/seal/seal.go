// Package seal encrypts ballot selections under a per-election symmetric key.
//
// The construction is AES-256-GCM with a random nonce prefixed to the
// ciphertext. A sealed ballot is opaque to everything between the casting
// service and the tally: the ledger chains and stores it as raw bytes.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required ballot key length in bytes (AES-256).
const KeySize = 32

// ErrInvalidKey is returned when a ballot key has the wrong length.
var ErrInvalidKey = errors.New("ballot key must be 32 bytes")

// NewKey generates a fresh random ballot key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate ballot key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key. The nonce is drawn from crypto/rand and
// prefixed to the returned ciphertext; reusing a nonce under GCM would be
// catastrophic, so it is never derived from anything deterministic.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed ballot produced by Seal.
func Open(key, box []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(box) < gcm.NonceSize() {
		return nil, errors.New("sealed ballot too short")
	}
	nonce, ciphertext := box[:gcm.NonceSize()], box[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed ballot: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
