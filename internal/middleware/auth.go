// Package middleware provides Gin HTTP middleware for the route guard, session and API key
// authentication, rate limiting, security headers, metrics and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → Guard → RateLimit → Audit → Handler
//
// The guard runs before rate limiting so limits can key on the authenticated user rather
// than the client IP.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/auth"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/services"
)

// gin.Context keys set by the guard
const (
	UserKey        = "user"
	UserIDKey      = "user_id"
	AuthMethodKey  = "auth_method"
	PrincipalKey   = "api_principal"
	APIKeyIDKey    = "api_key_id"
	TokensUsedKey  = "tokens_used"
	authMethodJWT  = "session"
	authMethodKey  = "api_key"
	apiKeyHeader   = "x-api-key"
	apiKeyQueryArg = "api_key"
)

// UserLookup loads the account behind a session
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// Sessions resolves the session cookie (or a Bearer token, for non-browser clients) to a
// user. The user is reloaded on every request so deleted accounts lose access at once; the
// role is the one embedded in the token at login.
type Sessions struct {
	issuer     *auth.SessionIssuer
	cookieName string
	users      UserLookup
}

// NewSessions creates a session resolver
func NewSessions(issuer *auth.SessionIssuer, cookieName string, users UserLookup) *Sessions {
	return &Sessions{issuer: issuer, cookieName: cookieName, users: users}
}

// CookieName returns the name of the session cookie
func (s *Sessions) CookieName() string {
	return s.cookieName
}

func (s *Sessions) token(c *gin.Context) string {
	if v, err := c.Cookie(s.cookieName); err == nil && v != "" {
		return v
	}
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, err := auth.ExtractBearerToken(h); err == nil {
			return tok
		}
	}
	return ""
}

// Resolve returns the signed-in user, or nil when there is no valid session
func (s *Sessions) Resolve(c *gin.Context) (*models.User, error) {
	tok := s.token(c)
	if tok == "" {
		return nil, nil
	}
	claims, err := s.issuer.Verify(tok)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			return nil, nil
		}
		return nil, err
	}
	user, err := s.users.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	user.Role = claims.Role
	return user, nil
}

// attach resolves the session and stores the user in the context. It reports whether a
// user is signed in.
func (s *Sessions) attach(c *gin.Context) (bool, error) {
	if _, ok := c.Get(UserKey); ok {
		return true, nil
	}
	user, err := s.Resolve(c)
	if err != nil || user == nil {
		return false, err
	}
	c.Set(UserKey, user)
	c.Set(UserIDKey, user.ID)
	c.Set(AuthMethodKey, authMethodJWT)
	return true, nil
}

// OptionalSession attaches the user when a valid session is present and never aborts
func OptionalSession(s *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := s.attach(c); err != nil {
			slog.Warn("session lookup failed", "error", err)
		}
		c.Next()
	}
}

// RequireAdmin rejects signed-in users without the admin role. It must run after the guard
// (or OptionalSession) has attached the user.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": "unauthorized"})
			return
		}
		if user.Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required", "code": "forbidden"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the session user attached to the request, or nil
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// CurrentPrincipal returns the API key principal attached to the request, or nil
func CurrentPrincipal(c *gin.Context) *services.APIPrincipal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*services.APIPrincipal)
	return p
}

// presentedAPIKey reads the key from the x-api-key header, falling back to the api_key
// query parameter
func presentedAPIKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(apiKeyHeader)); k != "" {
		return k
	}
	return strings.TrimSpace(c.Query(apiKeyQueryArg))
}
