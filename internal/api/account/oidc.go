package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/auth/oidc"
)

const (
	oidcStateCookie  = "cadogy_oidc_state"
	oidcStateMaxAge  = 300
	defaultCallback  = "/dashboard"
	loginErrorTarget = "/login?error="
)

// IdentityProvider is implemented by *oidc.Provider
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*oidc.Identity, error)
}

// OIDCHandlers handles the external identity login flow
type OIDCHandlers struct {
	auth     *AuthHandlers
	provider IdentityProvider
}

// NewOIDCHandlers creates the handlers. provider may be nil when external login is
// disabled, in which case both endpoints answer 503.
func NewOIDCHandlers(authHandlers *AuthHandlers, provider IdentityProvider) *OIDCHandlers {
	return &OIDCHandlers{auth: authHandlers, provider: provider}
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// safeCallback keeps redirects on this site: only absolute paths, never "//host"
func safeCallback(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return defaultCallback
	}
	return raw
}

// encodeState packs state, nonce and the callback path into the state cookie value
func encodeState(state, nonce, callback string) string {
	return state + "|" + nonce + "|" + base64.RawURLEncoding.EncodeToString([]byte(callback))
}

func decodeState(v string) (state, nonce, callback string, ok bool) {
	parts := strings.SplitN(v, "|", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	cb, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", "", "", false
	}
	return parts[0], parts[1], safeCallback(string(cb)), true
}

// @Summary      Start external login
// @Tags         Authentication
// @Param        callbackUrl  query  string  false  "Site path to return to"
// @Success      302
// @Failure      503  {object}  map[string]interface{}  "External login not configured"
// @Router       /api/auth/oidc/login [get]
func (h *OIDCHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.provider == nil {
			apperr.Respond(c, apperr.New(apperr.KindUnavailable, "external login is not configured"))
			return
		}
		state, err := randomToken()
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		nonce, err := randomToken()
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(oidcStateCookie, encodeState(state, nonce, safeCallback(c.Query("callbackUrl"))),
			oidcStateMaxAge, "/api/auth/oidc", "", h.auth.cookie.Secure, true)
		c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, nonce))
	}
}

// @Summary      External login callback
// @Tags         Authentication
// @Param        code   query  string  true  "Authorization code"
// @Param        state  query  string  true  "State"
// @Success      302
// @Router       /api/auth/oidc/callback [get]
func (h *OIDCHandlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.provider == nil {
			apperr.Respond(c, apperr.New(apperr.KindUnavailable, "external login is not configured"))
			return
		}
		fail := func(code string) {
			c.Redirect(http.StatusFound, loginErrorTarget+url.QueryEscape(code))
		}

		raw, err := c.Cookie(oidcStateCookie)
		c.SetCookie(oidcStateCookie, "", -1, "/api/auth/oidc", "", h.auth.cookie.Secure, true)
		if err != nil {
			fail("invalid_state")
			return
		}
		state, nonce, callback, ok := decodeState(raw)
		if !ok || state == "" || c.Query("state") != state {
			fail("invalid_state")
			return
		}
		if e := c.Query("error"); e != "" {
			fail(e)
			return
		}

		identity, err := h.provider.Exchange(c.Request.Context(), c.Query("code"), nonce)
		if err != nil {
			slog.Warn("oidc exchange failed", "error", err)
			fail("exchange_failed")
			return
		}

		user, err := h.auth.auth.SignInExternal(c.Request.Context(), identity)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				slog.Error("external sign-in failed", "error", err)
			}
			fail(string(apperr.KindOf(err)))
			return
		}
		if _, err := h.auth.startSession(c, user); err != nil {
			slog.Error("failed to issue session", "error", err)
			fail("internal")
			return
		}
		c.Redirect(http.StatusFound, callback)
	}
}
