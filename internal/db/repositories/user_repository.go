// Package repositories implements the data access layer for the Cadogy backend.
// Each repository type encapsulates the queries for one domain entity; handlers and services
// never issue SQL directly. Lookups return (nil, nil) when no row matches.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

const userColumns = `id, email, password_hash, email_verified_at, role, name, image, oidc_sub, token_balance, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.EmailVerifiedAt,
		&user.Role,
		&user.Name,
		&user.Image,
		&user.OIDCSub,
		&user.TokenBalance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts a new user. Emails are stored lower-cased; a collision on the
// case-insensitive email index returns ErrDuplicateEmail.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = "user"
	}

	query := `
		INSERT INTO users (id, email, password_hash, email_verified_at, role, name, image, oidc_sub, token_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.Role,
		user.Name,
		user.Image,
		user.OIDCSub,
		user.TokenBalance,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getOne(ctx, `id = $1`, userID)
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `lower(email) = lower($1)`, strings.TrimSpace(email))
}

// GetUserByOIDCSub retrieves a user by OIDC subject identifier
func (r *UserRepository) GetUserByOIDCSub(ctx context.Context, oidcSub string) (*models.User, error) {
	return r.getOne(ctx, `oidc_sub = $1`, oidcSub)
}

// UpdateProfile updates the self-service profile fields. Role is deliberately absent.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID, name string, image *string) error {
	query := `UPDATE users SET name = $2, image = $3, updated_at = $4 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, name, image, time.Now())
	return err
}

// UpdatePassword replaces the stored password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, passwordHash, time.Now())
	return err
}

// UpdateImage sets the avatar URL
func (r *UserRepository) UpdateImage(ctx context.Context, userID, imageURL string) error {
	query := `UPDATE users SET image = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, imageURL, time.Now())
	return err
}

// LinkOIDCSub attaches an external identity subject to an existing account and marks the
// email verified when the identity provider asserted it.
func (r *UserRepository) LinkOIDCSub(ctx context.Context, userID, oidcSub string, emailVerified bool) error {
	query := `
		UPDATE users SET
			oidc_sub = $2,
			email_verified_at = CASE WHEN $3 AND email_verified_at IS NULL THEN now() ELSE email_verified_at END,
			updated_at = now()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, oidcSub, emailVerified)
	return err
}

// SetRole changes a user's role. Returns false when the user does not exist.
func (r *UserRepository) SetRole(ctx context.Context, userID, role string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, userID, role)
	return affected(res, err)
}

// SetVerified marks a user verified (now) or unverified. Returns false when the user does not exist.
func (r *UserRepository) SetVerified(ctx context.Context, userID string, verified bool) (bool, error) {
	query := `
		UPDATE users SET
			email_verified_at = CASE WHEN $2 THEN COALESCE(email_verified_at, now()) ELSE NULL END,
			updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, verified)
	return affected(res, err)
}

// DeleteUser removes a user and, by cascade, their keys, tickets and ledger rows
func (r *UserRepository) DeleteUser(ctx context.Context, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return affected(res, err)
}

// ListUsers returns a page of users, optionally filtered by a case-insensitive search on
// email or name, newest first, plus the total match count.
func (r *UserRepository) ListUsers(ctx context.Context, search string, limit, offset int) ([]*models.User, int, error) {
	where := ""
	args := make([]interface{}, 0, 3)
	if search = strings.TrimSpace(search); search != "" {
		where = ` WHERE email ILIKE $1 OR name ILIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
