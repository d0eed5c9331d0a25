// Package auth - jwt.go issues and verifies the stateless session token carried in the
// session cookie. Tokens embed the user id and role at issuance; there is no server-side
// revocation. A role change applies from the next login; the session middleware still
// reloads the user on each request so deleted accounts lose access immediately.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// SessionTTL is the absolute lifetime of a session token. Sessions are never extended.
	SessionTTL = 30 * 24 * time.Hour

	sessionIssuer = "cadogy"
)

// ErrInvalidSession is returned for any token that fails signature, expiry or claim checks.
var ErrInvalidSession = errors.New("invalid or expired session")

// SessionClaims represents the JWT claims structure
type SessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies session tokens with an HMAC secret.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates an issuer. A zero ttl uses SessionTTL.
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the configured session lifetime
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed session token for the user and returns it with its expiry.
func (s *SessionIssuer) Issue(userID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &SessionClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token
func (s *SessionIssuer) Verify(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidSession
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.UserID == "" || !IsValidRole(claims.Role) {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// isDevMode checks if we're in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// ResolveJWTSecret returns the configured signing secret. Without one, development mode
// gets a random per-process secret (sessions do not survive restarts) and every other
// mode fails fast.
func ResolveJWTSecret(configured string) (string, error) {
	if configured != "" {
		if len(configured) < 32 {
			slog.Warn("CADOGY_AUTH_JWT_SECRET is shorter than the recommended 32 characters")
		}
		return configured, nil
	}
	if !isDevMode() {
		return "", errors.New("CADOGY_AUTH_JWT_SECRET is required outside development mode; " +
			"generate one with: go run scripts/generate-key.go")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate development secret: %w", err)
	}
	slog.Warn("CADOGY_AUTH_JWT_SECRET not set; using an auto-generated secret for development. Sessions will not persist across restarts.")
	return hex.EncodeToString(buf), nil
}
