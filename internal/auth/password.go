package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the default bcrypt work factor
	BcryptCost = 12

	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 8

	// bcrypt ignores input past 72 bytes
	maxPasswordBytes = 72
)

// ErrPasswordTooLong is returned when a password exceeds what bcrypt can hash
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

// PasswordPolicyViolations lists every rule the password breaks. An empty result means
// the password is acceptable.
func PasswordPolicyViolations(password string) []string {
	var (
		violations                   []string
		hasUpper, hasLower, hasDigit bool
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if len([]rune(password)) < MinPasswordLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		violations = append(violations, "must be at most 72 bytes")
	}
	if !hasUpper {
		violations = append(violations, "must contain an upper-case letter")
	}
	if !hasLower {
		violations = append(violations, "must contain a lower-case letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	return violations
}

// HashPassword hashes a password with bcrypt. A cost of 0 uses BcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	if cost == 0 {
		cost = BcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
