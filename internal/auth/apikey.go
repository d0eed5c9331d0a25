// Package auth provides authentication primitives: session tokens, password hashing,
// per-user API keys and single-use verification tokens.
// See internal/middleware for the request-time logic that uses them.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of leading characters kept for display
	DisplayPrefixLength = 8

	// displaySuffixLength is the number of trailing characters shown in masked keys
	displaySuffixLength = 4
)

// GenerateAPIKey creates a new random API key with the given prefix.
// Returns the full key (shown once, then only through reveal), its SHA-256 lookup hash,
// and the display prefix.
//
// Keys carry 256 bits of entropy, so a fast unsalted hash is sufficient for lookup; bcrypt
// would force a scan over every key on each request.
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	displayPrefix = fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefix = fullKey[:DisplayPrefixLength]
	}
	return fullKey, HashAPIKey(fullKey), displayPrefix, nil
}

// HashAPIKey returns the hex SHA-256 digest used to look a key up
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeySuffix returns the trailing characters of a key kept for masked display
func KeySuffix(key string) string {
	if len(key) <= displaySuffixLength {
		return key
	}
	return key[len(key)-displaySuffixLength:]
}

// MaskAPIKey renders a key for list views, e.g. "cdg_AbCd…wXyZ"
func MaskAPIKey(displayPrefix, suffix string) string {
	return displayPrefix + "…" + suffix
}

// ExtractBearerToken extracts the token from an Authorization header
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
