// Package account implements the credential authentication, external identity login and
// self-service profile handlers mounted under /api/auth and /api/user.
package account

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/auth/oidc"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/services"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// AuthService is implemented by *services.AuthService
type AuthService interface {
	Authenticate(ctx context.Context, email, password string) (*services.AuthenticatedUser, services.AuthOutcome)
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	ChangePassword(ctx context.Context, userID, current, next string) error
	SignInExternal(ctx context.Context, id *oidc.Identity) (*services.AuthenticatedUser, error)
}

// TokenIssuer is implemented by *auth.SessionIssuer
type TokenIssuer interface {
	Issue(userID, role string) (string, time.Time, error)
	TTL() time.Duration
}

// CookieSettings controls the session cookie attributes
type CookieSettings struct {
	Name   string
	Secure bool
}

// AuthHandlers handles /api/auth endpoints
type AuthHandlers struct {
	auth   AuthService
	issuer TokenIssuer
	cookie CookieSettings
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(authService AuthService, issuer TokenIssuer, cookie CookieSettings) *AuthHandlers {
	return &AuthHandlers{auth: authService, issuer: issuer, cookie: cookie}
}

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Name     string `json:"name" binding:"max=100"`
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,password"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,max=72"`
}

// EmailRequest is the body of resend-verification and forgot-password
type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest is the body of POST /api/auth/reset-password
type ResetPasswordRequest struct {
	Token           string `json:"token" binding:"required,len=64,hexadecimal"`
	Password        string `json:"password" binding:"required,password"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=Password"`
}

// SessionResponse is returned by login and the session endpoint
type SessionResponse struct {
	User      models.PublicUser `json:"user"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

func publicOf(u *services.AuthenticatedUser) models.PublicUser {
	return models.PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image, Role: u.Role}
}

// startSession issues the session token and sets the cookie
func (h *AuthHandlers) startSession(c *gin.Context, u *services.AuthenticatedUser) (time.Time, error) {
	token, expiresAt, err := h.issuer.Issue(u.ID, u.Role)
	if err != nil {
		return time.Time{}, err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, token, int(h.issuer.TTL().Seconds()), "/", "", h.cookie.Secure, true)
	return expiresAt, nil
}

// @Summary      Register
// @Description  Create an unverified account and email a 24 hour verification link
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Account details"
// @Success      201  {object}  map[string]interface{}  "user: models.PublicUser"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/auth/register [post]
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}

		user, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.UserIDKey, user.ID)
		c.Set(middleware.AuditActionKey, "user.registered")
		c.Set(middleware.AuditResourceIDKey, user.ID)
		c.JSON(http.StatusCreated, gin.H{
			"user":    user.Public(),
			"message": "Account created. Check your email to verify your address.",
		})
	}
}

// @Summary      Login
// @Description  Check credentials and set the session cookie
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  SessionResponse
// @Failure      401  {object}  map[string]interface{}  "invalid_credentials or no_password"
// @Failure      403  {object}  map[string]interface{}  "unverified"
// @Failure      404  {object}  map[string]interface{}  "not_found"
// @Router       /api/auth/login [post]
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}

		user, outcome := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password)
		if outcome != services.AuthOK {
			apperr.Respond(c, outcome.Err())
			return
		}

		expiresAt, err := h.startSession(c, user)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, SessionResponse{User: publicOf(user), ExpiresAt: &expiresAt})
	}
}

// @Summary      Logout
// @Description  Clear the session cookie. Tokens are stateless and stay valid until expiry.
// @Tags         Authentication
// @Success      200  {object}  map[string]interface{}
// @Router       /api/auth/logout [post]
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
		c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
	}
}

// @Summary      Current session
// @Tags         Authentication
// @Produce      json
// @Success      200  {object}  SessionResponse
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/auth/session [get]
func (h *AuthHandlers) SessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		c.JSON(http.StatusOK, SessionResponse{User: user.Public()})
	}
}

// @Summary      Verify email
// @Tags         Authentication
// @Param        token  query  string  true  "Verification token"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "invalid_or_expired"
// @Router       /api/auth/verify-email [get]
func (h *AuthHandlers) VerifyEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.auth.VerifyEmail(c.Request.Context(), c.Query("token")); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Email verified. You can now sign in."})
	}
}

// @Summary      Resend verification email
// @Tags         Authentication
// @Param        body  body  EmailRequest  true  "Account email"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/auth/resend-verification [post]
func (h *AuthHandlers) ResendVerificationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmailRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "If the account exists and is not yet verified, a new link has been sent."})
	}
}

// @Summary      Forgot password
// @Description  Always answers with the same message whether or not the account exists
// @Tags         Authentication
// @Param        body  body  EmailRequest  true  "Account email"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/auth/forgot-password [post]
func (h *AuthHandlers) ForgotPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmailRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": services.ForgotPasswordMessage()})
	}
}

// @Summary      Reset password
// @Tags         Authentication
// @Param        body  body  ResetPasswordRequest  true  "Token and new password"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Validation error or invalid_or_expired"
// @Router       /api/auth/reset-password [post]
func (h *AuthHandlers) ResetPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetPasswordRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Password updated. You can now sign in."})
	}
}
