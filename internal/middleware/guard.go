package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/safego"
	"github.com/cadogy/cadogy-backend/internal/services"
)

// RouteClass is the access class the guard assigns to a request path
type RouteClass int

const (
	ClassLegacyRedirect RouteClass = iota
	ClassPublicPage
	ClassPublicAPI
	ClassSessionAPI
	ClassAPIKey
	ClassSessionPage
	ClassDefault
)

func (rc RouteClass) String() string {
	switch rc {
	case ClassLegacyRedirect:
		return "legacy_redirect"
	case ClassPublicPage:
		return "public_page"
	case ClassPublicAPI:
		return "public_api"
	case ClassSessionAPI:
		return "session_api"
	case ClassAPIKey:
		return "api_key"
	case ClassSessionPage:
		return "session_page"
	default:
		return "default"
	}
}

var legacyRedirects = map[string]string{
	"/auth/verify-email":   "/verify-email",
	"/auth/reset-password": "/reset-password",
}

var publicPages = map[string]bool{
	"/":                true,
	"/login":           true,
	"/register":        true,
	"/verify-email":    true,
	"/reset-password":  true,
	"/forgot-password": true,
	"/healthz":         true,
	"/readyz":          true,
	"/favicon.ico":     true,
	"/robots.txt":      true,
	"/sitemap.xml":     true,
}

var (
	publicPagePrefixes  = []string{"/articles", "/uploads/", "/_next/", "/static/", "/assets/"}
	publicAPIPrefixes   = []string{"/api/auth/", "/api/public/", "/api/webhooks/"}
	sessionAPIPrefixes  = []string{"/api/dashboard/", "/api/user/", "/api/admin/"}
	sessionPagePrefixes = []string{"/dashboard", "/profile", "/settings"}
)

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Classify assigns a path to exactly one class. Rules are evaluated in order and the first
// match wins.
func Classify(path string) RouteClass {
	switch {
	case legacyRedirects[path] != "":
		return ClassLegacyRedirect
	case publicPages[path] || hasAnyPrefix(path, publicPagePrefixes):
		return ClassPublicPage
	case hasAnyPrefix(path, publicAPIPrefixes):
		return ClassPublicAPI
	case hasAnyPrefix(path, sessionAPIPrefixes):
		return ClassSessionAPI
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return ClassAPIKey
	case hasAnyPrefix(path, sessionPagePrefixes):
		return ClassSessionPage
	default:
		return ClassDefault
	}
}

// APIKeyAuthenticator is implemented by *services.APIKeyService
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, presented string) (*services.APIPrincipal, error)
}

// UsageRecorder is implemented by *repositories.UsageRepository
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u *models.UsageLog) error
}

// LastUsedUpdater is implemented by *repositories.APIKeyRepository
type LastUsedUpdater interface {
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// Guard authenticates requests according to their route class
type Guard struct {
	sessions *Sessions
	keys     APIKeyAuthenticator
	usage    UsageRecorder
	lastUsed LastUsedUpdater
}

// NewGuard creates the guard. usage and lastUsed may be nil, in which case per-key usage
// is not recorded.
func NewGuard(sessions *Sessions, keys APIKeyAuthenticator, usage UsageRecorder, lastUsed LastUsedUpdater) *Guard {
	return &Guard{sessions: sessions, keys: keys, usage: usage, lastUsed: lastUsed}
}

// Middleware returns the gin handler. It must be installed on the engine so it sees every
// request, including those that match no route.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		switch Classify(path) {
		case ClassLegacyRedirect:
			target := legacyRedirects[path]
			if q := c.Request.URL.RawQuery; q != "" {
				target += "?" + q
			}
			c.Redirect(http.StatusPermanentRedirect, target)
			c.Abort()

		case ClassPublicPage, ClassDefault:
			c.Next()

		case ClassPublicAPI:
			// auth routes read the session (e.g. /api/auth/session) but never require it
			if _, err := g.sessions.attach(c); err != nil {
				slog.Warn("session lookup failed", "error", err)
			}
			c.Next()

		case ClassSessionAPI:
			ok, err := g.sessions.attach(c)
			if err != nil {
				apperr.Respond(c, apperr.Internal(err))
				return
			}
			if !ok {
				apperr.Respond(c, apperr.New(apperr.KindUnauthorized, "Authentication required"))
				return
			}
			c.Next()

		case ClassAPIKey:
			g.apiKey(c)

		case ClassSessionPage:
			ok, err := g.sessions.attach(c)
			if err != nil {
				slog.Warn("session lookup failed", "error", err)
			}
			if !ok {
				c.Redirect(http.StatusFound, "/login?callbackUrl="+url.QueryEscape(c.Request.URL.RequestURI()))
				c.Abort()
				return
			}
			c.Next()
		}
	}
}

func (g *Guard) apiKey(c *gin.Context) {
	principal, err := g.keys.Authenticate(c.Request.Context(), presentedAPIKey(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Set(PrincipalKey, principal)
	c.Set(AuthMethodKey, authMethodKey)
	if principal.Tier == services.TierUser {
		c.Set(UserIDKey, principal.UserID)
		c.Set(APIKeyIDKey, principal.KeyID)
	}

	start := time.Now()
	c.Next()

	if principal.Tier != services.TierUser || g.usage == nil || g.lastUsed == nil {
		return
	}
	keyID := principal.KeyID
	entry := &models.UsageLog{
		APIKeyID:   &keyID,
		UserID:     principal.UserID,
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		StatusCode: c.Writer.Status(),
		LatencyMS:  int(time.Since(start).Milliseconds()),
		TokensUsed: c.GetInt64(TokensUsedKey),
	}
	// best effort; a failed write must not affect the response
	safego.GoWithTimeout("api-key-usage", 5*time.Second, func(ctx context.Context) error {
		if err := g.lastUsed.UpdateLastUsed(ctx, keyID); err != nil {
			return err
		}
		return g.usage.RecordUsage(ctx, entry)
	})
}
