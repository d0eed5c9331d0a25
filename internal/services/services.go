// Package services implements the business logic that coordinates repositories and
// external collaborators (mail, payments, storage). Handlers stay thin: they bind and
// validate input, call a service, and translate its result with apperr.Respond.
//
// Services depend on the narrow interfaces below rather than concrete repositories so they
// can be exercised with in-memory fakes.
package services

import (
	"context"

	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/email"
)

// UserStore is implemented by *repositories.UserRepository
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByOIDCSub(ctx context.Context, oidcSub string) (*models.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	LinkOIDCSub(ctx context.Context, userID, oidcSub string, emailVerified bool) error
}

// VerificationTokenStore is implemented by *repositories.VerificationTokenRepository
type VerificationTokenStore interface {
	Issue(ctx context.Context, tok *models.VerificationToken) error
	ConsumeEmailVerification(ctx context.Context, token string) (string, error)
	ConsumePasswordReset(ctx context.Context, token, passwordHash string) (string, error)
}

// APIKeyStore is implemented by *repositories.APIKeyRepository
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	GetAPIKeyForOwner(ctx context.Context, keyID, userID string) (*models.APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	CountAPIKeysByUser(ctx context.Context, userID string) (int, error)
	SetActiveForOwner(ctx context.Context, keyID, userID string, active bool) (bool, error)
	SetActive(ctx context.Context, keyID string, active bool) (bool, error)
	DeleteForOwner(ctx context.Context, keyID, userID string) (bool, error)
}

// LedgerStore is implemented by *repositories.TokenRepository
type LedgerStore interface {
	Apply(ctx context.Context, entry *models.TokenTransaction) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.TokenTransaction, int, error)
}

// Mailer is implemented by *email.Dispatcher
type Mailer interface {
	Dispatch(ctx context.Context, msg email.Message) error
}
