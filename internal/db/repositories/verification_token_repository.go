// verification_token_repository.go implements VerificationTokenRepository: issuing and
// consuming single-use email verification and password reset tokens.
package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/db"
	"github.com/cadogy/cadogy-backend/internal/db/models"
)

// VerificationTokenRepository handles verification token database operations
type VerificationTokenRepository struct {
	db *sql.DB
}

// NewVerificationTokenRepository creates a new VerificationTokenRepository
func NewVerificationTokenRepository(db *sql.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

// Issue replaces every outstanding token for (identifier, purpose) with tok in a single
// transaction, so at most one token per purpose is valid for an address.
func (r *VerificationTokenRepository) Issue(ctx context.Context, tok *models.VerificationToken) error {
	tok.ID = uuid.New().String()
	tok.Identifier = strings.ToLower(strings.TrimSpace(tok.Identifier))
	tok.CreatedAt = time.Now()

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM verification_tokens WHERE identifier = $1 AND purpose = $2`,
			tok.Identifier, tok.Purpose,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO verification_tokens (id, identifier, token, purpose, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, tok.ID, tok.Identifier, tok.Token, tok.Purpose, tok.ExpiresAt, tok.CreatedAt)
		return err
	})
}

// GetValid returns the unexpired token with the given value and purpose
func (r *VerificationTokenRepository) GetValid(ctx context.Context, token, purpose string) (*models.VerificationToken, error) {
	query := `
		SELECT id, identifier, token, purpose, expires_at, created_at
		FROM verification_tokens
		WHERE token = $1 AND purpose = $2 AND expires_at > now()
	`
	tok := &models.VerificationToken{}
	err := r.db.QueryRowContext(ctx, query, token, purpose).Scan(
		&tok.ID,
		&tok.Identifier,
		&tok.Token,
		&tok.Purpose,
		&tok.ExpiresAt,
		&tok.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// consume deletes an unexpired token and returns its identifier, or ErrTokenInvalid
func consume(ctx context.Context, tx *sql.Tx, token, purpose string) (string, error) {
	var identifier string
	err := tx.QueryRowContext(ctx, `
		DELETE FROM verification_tokens
		WHERE token = $1 AND purpose = $2 AND expires_at > now()
		RETURNING identifier
	`, token, purpose).Scan(&identifier)
	if err == sql.ErrNoRows {
		return "", ErrTokenInvalid
	}
	return identifier, err
}

// ConsumeEmailVerification deletes the token and marks the matching user verified in one
// transaction. Returns the verified user's ID.
func (r *VerificationTokenRepository) ConsumeEmailVerification(ctx context.Context, token string) (string, error) {
	var userID string
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		identifier, err := consume(ctx, tx, token, models.PurposeEmailVerification)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			UPDATE users SET email_verified_at = COALESCE(email_verified_at, now()), updated_at = now()
			WHERE lower(email) = $1
			RETURNING id
		`, identifier).Scan(&userID)
		if err == sql.ErrNoRows {
			return ErrTokenInvalid
		}
		return err
	})
	return userID, err
}

// ConsumePasswordReset deletes the token and stores the new password hash for the matching
// user in one transaction. Returns the user's ID.
func (r *VerificationTokenRepository) ConsumePasswordReset(ctx context.Context, token, passwordHash string) (string, error) {
	var userID string
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		identifier, err := consume(ctx, tx, token, models.PurposePasswordReset)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			UPDATE users SET password_hash = $2, updated_at = now()
			WHERE lower(email) = $1
			RETURNING id
		`, identifier, passwordHash).Scan(&userID)
		if err == sql.ErrNoRows {
			return ErrTokenInvalid
		}
		return err
	})
	return userID, err
}

// PurgeExpired deletes tokens whose expiry has passed and returns how many were removed
func (r *VerificationTokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
