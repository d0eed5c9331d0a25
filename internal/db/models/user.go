// Package models - user.go defines the User model. Accounts created through external
// identity login have no password hash.
package models

import "time"

// User represents an account on the site
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    *string    `json:"-"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	Role            string     `json:"role"`
	Name            string     `json:"name"`
	Image           *string    `json:"image,omitempty"`
	OIDCSub         *string    `json:"-"`
	TokenBalance    int64      `json:"token_balance"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsVerified reports whether the user has confirmed their email address
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// HasPassword reports whether the account can sign in with credentials
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// PublicUser is the session-facing view of a user
type PublicUser struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Image *string `json:"image"`
	Role  string  `json:"role"`
}

// Public returns the fields exposed to the signed-in user
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image, Role: u.Role}
}
