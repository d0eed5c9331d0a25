// Package crypto provides AES-256-GCM authenticated encryption for secrets that must be
// recoverable from the database, specifically per-user API keys that owners can reveal
// from the dashboard. Lookups never decrypt: keys are found by their SHA-256 hash and the
// ciphertext is only opened on an explicit, owner-checked reveal.
//
// Every ciphertext is bound to its owner through GCM additional data, so a ciphertext
// copied onto another user's row fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails decoding or is too short.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when GCM authentication fails (tampering, wrong key or wrong owner).
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when a derivation salt is shorter than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// pbkdf2Iterations is used when ENCRYPTION_KEY holds a passphrase rather than raw key material.
const pbkdf2Iterations = 210000

// KeyCipher seals and opens secrets with a single AES-256-GCM key.
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipher creates a cipher from a 32-byte master key.
func NewKeyCipher(masterKey []byte) (*KeyCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &KeyCipher{aead: aead}, nil
}

// DeriveKeyCipher derives the master key from a passphrase with PBKDF2-SHA256.
func DeriveKeyCipher(passphrase string, salt []byte) (*KeyCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	return NewKeyCipher(pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New))
}

// ParseKeyCipher builds a cipher from the ENCRYPTION_KEY value. A 64-character hex string
// or a base64 string decoding to 32 bytes is used as raw key material; anything else is
// treated as a passphrase and stretched with the given salt.
func ParseKeyCipher(value string, salt []byte) (*KeyCipher, error) {
	value = strings.TrimSpace(value)
	if len(value) == 64 {
		if raw, err := hex.DecodeString(value); err == nil {
			return NewKeyCipher(raw)
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil && len(raw) == 32 {
		return NewKeyCipher(raw)
	}
	return DeriveKeyCipher(value, salt)
}

// Seal encrypts plaintext bound to owner and returns base64url(nonce || ciphertext).
func (kc *KeyCipher) Seal(plaintext, owner string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, kc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := kc.aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal for the same owner.
func (kc *KeyCipher) Open(encoded, owner string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}
	n := kc.aead.NonceSize()
	if len(raw) < n {
		return "", ErrCiphertextCorrupted
	}
	plaintext, err := kc.aead.Open(nil, raw[:n], raw[n:], []byte(owner))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey creates a random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
