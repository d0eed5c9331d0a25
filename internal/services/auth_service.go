package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/auth"
	"github.com/cadogy/cadogy-backend/internal/auth/oidc"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

// AuthOutcome is the result of a credential login attempt
type AuthOutcome int

const (
	AuthOK AuthOutcome = iota
	AuthNotFound
	AuthUnverified
	AuthInvalidCredentials
	AuthNoPassword
	AuthInternal
)

// String returns the stable machine-readable code for the outcome
func (o AuthOutcome) String() string {
	switch o {
	case AuthOK:
		return "ok"
	case AuthNotFound:
		return "not_found"
	case AuthUnverified:
		return "unverified"
	case AuthInvalidCredentials:
		return "invalid_credentials"
	case AuthNoPassword:
		return "no_password"
	default:
		return "internal"
	}
}

// Err converts a failed outcome to the error returned to clients. AuthOK returns nil.
func (o AuthOutcome) Err() error {
	switch o {
	case AuthOK:
		return nil
	case AuthNotFound:
		return apperr.New(apperr.KindNotFound, "no account exists for that email").WithCode(o.String())
	case AuthUnverified:
		return apperr.New(apperr.KindUnverified, "please verify your email address before signing in").WithCode(o.String())
	case AuthInvalidCredentials:
		return apperr.New(apperr.KindUnauthorized, "invalid email or password").WithCode(o.String())
	case AuthNoPassword:
		return apperr.New(apperr.KindUnauthorized, "this account signs in through single sign-on").WithCode(o.String())
	default:
		return apperr.Internal(errors.New("authentication failed"))
	}
}

// ErrTokenInvalid is the client-facing error for unknown, used or expired verification tokens
var ErrTokenInvalid = apperr.New(apperr.KindInvalidOrExpired, "this link is invalid or has expired")

// forgotPasswordMessage is returned whether or not the account exists
const forgotPasswordMessage = "If an account exists for that email, a reset link has been sent."

// AuthenticatedUser is the session identity produced by a successful login
type AuthenticatedUser struct {
	ID    string
	Email string
	Name  string
	Image *string
	Role  string
}

func authenticated(u *models.User) *AuthenticatedUser {
	return &AuthenticatedUser{ID: u.ID, Email: u.Email, Name: u.Name, Image: u.Image, Role: u.Role}
}

// AuthService implements credential registration, login, email verification, password
// reset and external identity sign-in.
type AuthService struct {
	users      UserStore
	tokens     VerificationTokenStore
	mailer     Mailer
	templates  *email.Templates
	bcryptCost int
	now        func() time.Time
}

// NewAuthService creates the service. A zero bcryptCost uses auth.BcryptCost.
func NewAuthService(users UserStore, tokens VerificationTokenStore, mailer Mailer, templates *email.Templates, bcryptCost int) *AuthService {
	if bcryptCost == 0 {
		bcryptCost = auth.BcryptCost
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		mailer:     mailer,
		templates:  templates,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// ForgotPasswordMessage is the generic response body for forgot-password and resend requests
func ForgotPasswordMessage() string {
	return forgotPasswordMessage
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Authenticate checks credentials. Outcomes are ordered: unknown account, then external
// identity account, then verification, then password. Unverified accounts are rejected
// whether or not the password is correct.
func (s *AuthService) Authenticate(ctx context.Context, emailAddr, password string) (*AuthenticatedUser, AuthOutcome) {
	outcome, user := s.authenticate(ctx, emailAddr, password)
	telemetry.AuthAttemptsTotal.WithLabelValues("credentials", outcome.String()).Inc()
	if outcome != AuthOK {
		return nil, outcome
	}
	return authenticated(user), AuthOK
}

func (s *AuthService) authenticate(ctx context.Context, emailAddr, password string) (AuthOutcome, *models.User) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		slog.Error("login lookup failed", "error", err)
		return AuthInternal, nil
	}
	if user == nil {
		return AuthNotFound, nil
	}
	if !user.IsVerified() {
		return AuthUnverified, nil
	}
	if !user.HasPassword() {
		return AuthNoPassword, nil
	}
	if !auth.CheckPassword(*user.PasswordHash, password) {
		return AuthInvalidCredentials, nil
	}
	return AuthOK, user
}

// Register creates an unverified account and emails a 24 h verification link. Input is
// expected to be validated by the caller.
func (s *AuthService) Register(ctx context.Context, name, emailAddr, password string) (*models.User, error) {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperr.Validation(map[string]string{"password": err.Error()})
		}
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		Email:        normalizeEmail(emailAddr),
		Name:         strings.TrimSpace(name),
		PasswordHash: &hash,
		Role:         auth.RoleUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			return nil, apperr.New(apperr.KindConflict, "an account with this email already exists")
		}
		return nil, apperr.Internal(fmt.Errorf("create user: %w", err))
	}

	// The account exists at this point; a mail failure must not fail registration.
	// The user can request a new link through resend-verification.
	if err := s.sendVerification(ctx, user); err != nil {
		slog.Error("failed to send verification email", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// issue creates a fresh token for (identifier, purpose), replacing earlier ones
func (s *AuthService) issue(ctx context.Context, identifier, purpose string) (string, error) {
	token, err := auth.GenerateVerificationToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	if err := s.tokens.Issue(ctx, &models.VerificationToken{
		Identifier: identifier,
		Token:      token,
		Purpose:    purpose,
		ExpiresAt:  now.Add(auth.TTLForPurpose(purpose)),
		CreatedAt:  now,
	}); err != nil {
		return "", fmt.Errorf("issue %s token: %w", purpose, err)
	}
	telemetry.VerificationTokensIssuedTotal.WithLabelValues(purpose).Inc()
	return token, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user *models.User) error {
	token, err := s.issue(ctx, user.Email, auth.PurposeEmailVerification)
	if err != nil {
		return err
	}
	msg, err := s.templates.Verification(user.Email, user.Name, token)
	if err != nil {
		return err
	}
	return s.mailer.Dispatch(ctx, msg)
}

// VerifyEmail consumes an email verification token and marks the account verified
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenInvalid
	}
	userID, err := s.tokens.ConsumeEmailVerification(ctx, token)
	if errors.Is(err, repositories.ErrTokenInvalid) {
		return ErrTokenInvalid
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("verify email: %w", err))
	}
	slog.Info("email verified", "user_id", userID)
	return nil
}

// ResendVerification issues a new link for an existing unverified account. Callers always
// answer with the generic message so account existence is not revealed.
func (s *AuthService) ResendVerification(ctx context.Context, emailAddr string) error {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		return apperr.Internal(err)
	}
	if user == nil || user.IsVerified() {
		return nil
	}
	if err := s.sendVerification(ctx, user); err != nil {
		slog.Error("failed to resend verification email", "user_id", user.ID, "error", err)
	}
	return nil
}

// ForgotPassword emails a 1 h reset link when the account exists and has a password.
// Callers always answer with the generic message.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		return apperr.Internal(err)
	}
	if user == nil {
		return nil
	}

	if err := s.sendPasswordReset(ctx, user); err != nil {
		slog.Error("failed to send password reset email", "user_id", user.ID, "error", err)
	}
	return nil
}

func (s *AuthService) sendPasswordReset(ctx context.Context, user *models.User) error {
	token, err := s.issue(ctx, user.Email, auth.PurposePasswordReset)
	if err != nil {
		return err
	}
	msg, err := s.templates.PasswordReset(user.Email, user.Name, token)
	if err != nil {
		return err
	}
	return s.mailer.Dispatch(ctx, msg)
}

// ResetPassword consumes a reset token and stores the new password hash in one transaction
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return ErrTokenInvalid
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperr.Validation(map[string]string{"password": err.Error()})
		}
		return apperr.Internal(err)
	}

	userID, err := s.tokens.ConsumePasswordReset(ctx, token, hash)
	if errors.Is(err, repositories.ErrTokenInvalid) {
		return ErrTokenInvalid
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("reset password: %w", err))
	}
	slog.Info("password reset", "user_id", userID)
	return nil
}

// ChangePassword replaces the password of a signed-in user after checking the current one
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if user == nil {
		return apperr.ErrNotFound
	}
	if !user.HasPassword() {
		return apperr.New(apperr.KindValidation, "this account signs in through single sign-on").WithCode(AuthNoPassword.String())
	}
	if !auth.CheckPassword(*user.PasswordHash, current) {
		return apperr.Validation(map[string]string{"current_password": "is incorrect"})
	}

	hash, err := auth.HashPassword(next, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperr.Validation(map[string]string{"password": err.Error()})
		}
		return apperr.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// SignInExternal resolves an OIDC identity to a user: by subject, then by email (linking
// the subject), otherwise a new password-less account is created.
func (s *AuthService) SignInExternal(ctx context.Context, id *oidc.Identity) (*AuthenticatedUser, error) {
	outcome := AuthInternal
	defer func() {
		telemetry.AuthAttemptsTotal.WithLabelValues("oidc", outcome.String()).Inc()
	}()

	user, err := s.users.GetUserByOIDCSub(ctx, id.Subject)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if user == nil {
		user, err = s.users.GetUserByEmail(ctx, normalizeEmail(id.Email))
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if user != nil {
			// Linking on an unverified assertion would let an IdP account claim someone
			// else's email.
			if !id.EmailVerified {
				outcome = AuthUnverified
				return nil, AuthUnverified.Err()
			}
			if err := s.users.LinkOIDCSub(ctx, user.ID, id.Subject, true); err != nil {
				return nil, apperr.Internal(err)
			}
			if user.EmailVerifiedAt == nil {
				now := s.now()
				user.EmailVerifiedAt = &now
			}
		}
	}

	if user == nil {
		sub := id.Subject
		user = &models.User{
			Email:   normalizeEmail(id.Email),
			Name:    id.Name,
			Role:    auth.RoleUser,
			OIDCSub: &sub,
		}
		if id.Picture != "" {
			pic := id.Picture
			user.Image = &pic
		}
		if id.EmailVerified {
			now := s.now()
			user.EmailVerifiedAt = &now
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, apperr.Internal(fmt.Errorf("create external user: %w", err))
		}
		slog.Info("created account from external identity", "user_id", user.ID)
	}

	if !user.IsVerified() {
		outcome = AuthUnverified
		return nil, AuthUnverified.Err()
	}
	outcome = AuthOK
	return authenticated(user), nil
}
