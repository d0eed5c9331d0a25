package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

// Verification token purposes and lifetimes
const (
	PurposeEmailVerification = models.PurposeEmailVerification
	PurposePasswordReset     = models.PurposePasswordReset

	EmailVerificationTTL = 24 * time.Hour
	PasswordResetTTL     = time.Hour

	verificationTokenBytes = 32
)

// GenerateVerificationToken returns 32 random bytes, hex encoded (64 characters)
func GenerateVerificationToken() (string, error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TTLForPurpose returns the lifetime of a verification token
func TTLForPurpose(purpose string) time.Duration {
	if purpose == PurposePasswordReset {
		return PasswordResetTTL
	}
	return EmailVerificationTTL
}
