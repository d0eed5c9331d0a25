package models

import "time"

// VerificationToken is a single-use, short-lived proof of control over an email address.
// Identifier holds the (lower-cased) email the token was issued for.
type VerificationToken struct {
	ID         string
	Identifier string
	Token      string
	Purpose    string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the token can no longer be used at t
func (v *VerificationToken) IsExpired(t time.Time) bool {
	return !v.ExpiresAt.After(t)
}

// Verification token purposes
const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
)
