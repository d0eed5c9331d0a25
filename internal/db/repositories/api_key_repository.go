// api_key_repository.go implements APIKeyRepository, providing database queries for per-user
// API keys: hash lookup, owner-scoped management, usage stamps, and expiry notifications.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

const apiKeyColumns = `k.id, k.user_id, k.name, k.type, k.key_prefix, k.key_suffix, k.key_hash, k.key_ciphertext,
	k.is_active, k.last_used_at, k.expires_at, k.expiry_notification_sent_at, k.created_at, k.updated_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func scanAPIKey(row rowScanner, extra ...interface{}) (*models.APIKey, error) {
	key := &models.APIKey{}
	dest := []interface{}{
		&key.ID,
		&key.UserID,
		&key.Name,
		&key.Type,
		&key.KeyPrefix,
		&key.KeySuffix,
		&key.KeyHash,
		&key.KeyCiphertext,
		&key.IsActive,
		&key.LastUsedAt,
		&key.ExpiresAt,
		&key.ExpiryNotificationSentAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return key, nil
}

// CreateAPIKey creates a new API key
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()
	apiKey.UpdatedAt = apiKey.CreatedAt
	if apiKey.Type == "" {
		apiKey.Type = models.APIKeyTypePrimary
	}

	query := `
		INSERT INTO api_keys (id, user_id, name, type, key_prefix, key_suffix, key_hash, key_ciphertext, is_active, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.UserID,
		apiKey.Name,
		apiKey.Type,
		apiKey.KeyPrefix,
		apiKey.KeySuffix,
		apiKey.KeyHash,
		apiKey.KeyCiphertext,
		apiKey.IsActive,
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
		apiKey.UpdatedAt,
	)
	return err
}

// GetAPIKeyByHash retrieves an API key by its hash (for authentication)
func (r *APIKeyRepository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys k WHERE k.key_hash = $1`
	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// GetAPIKeyForOwner retrieves a key only when it belongs to userID. The ownership check is
// part of the SQL predicate so a foreign key ID is indistinguishable from a missing one.
func (r *APIKeyRepository) GetAPIKeyForOwner(ctx context.Context, keyID, userID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys k WHERE k.id = $1 AND k.user_id = $2`
	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListAPIKeysByUser lists a user's keys, newest first
func (r *APIKeyRepository) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys k WHERE k.user_id = $1 ORDER BY k.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CountAPIKeysByUser returns how many keys a user holds
func (r *APIKeyRepository) CountAPIKeysByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// SetActiveForOwner toggles a key owned by userID. Returns false when no such key exists
// for that owner.
func (r *APIKeyRepository) SetActiveForOwner(ctx context.Context, keyID, userID string, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		keyID, userID, active)
	return affected(res, err)
}

// SetActive toggles any key regardless of owner (admin)
func (r *APIKeyRepository) SetActive(ctx context.Context, keyID string, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = $2, updated_at = now() WHERE id = $1`,
		keyID, active)
	return affected(res, err)
}

// DeleteForOwner deletes a key owned by userID
func (r *APIKeyRepository) DeleteForOwner(ctx context.Context, keyID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, keyID, userID)
	return affected(res, err)
}

// UpdateLastUsed updates the last used timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, keyID, time.Now())
	return err
}

// ListExpiringKeys returns active keys expiring within the window whose owners have not
// been warned yet, joined with the owner's email and name.
func (r *APIKeyRepository) ListExpiringKeys(ctx context.Context, within time.Duration) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `, u.email, u.name
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.is_active
		  AND k.expires_at IS NOT NULL
		  AND k.expires_at > now()
		  AND k.expires_at <= $1
		  AND k.expiry_notification_sent_at IS NULL
		ORDER BY k.expires_at
	`
	rows, err := r.db.QueryContext(ctx, query, time.Now().Add(within))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		var email, name string
		key, err := scanAPIKey(rows, &email, &name)
		if err != nil {
			return nil, err
		}
		key.UserEmail = &email
		key.UserName = &name
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// MarkExpiryNotificationSent stamps the key so the owner is warned only once
func (r *APIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET expiry_notification_sent_at = now() WHERE id = $1`, keyID)
	return err
}
