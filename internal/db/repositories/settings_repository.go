// settings_repository.go implements SettingsRepository for admin-editable site settings and
// the admin dashboard counters, using sqlx struct scanning.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

// SettingsRepository handles site settings and admin statistics
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// ListSettings returns every setting, or only the public ones when publicOnly is set
func (r *SettingsRepository) ListSettings(ctx context.Context, publicOnly bool) ([]models.SiteSetting, error) {
	query := `SELECT key, value, is_public, updated_by, updated_at FROM site_settings`
	if publicOnly {
		query += ` WHERE is_public`
	}
	query += ` ORDER BY key`

	settings := make([]models.SiteSetting, 0)
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, err
	}
	return settings, nil
}

// GetSetting retrieves a single setting by key
func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (*models.SiteSetting, error) {
	var s models.SiteSetting
	err := r.db.GetContext(ctx, &s,
		`SELECT key, value, is_public, updated_by, updated_at FROM site_settings WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSetting stores value under key. isPublic is only applied when the key is new;
// existing keys keep their visibility.
func (r *SettingsRepository) UpsertSetting(ctx context.Context, key string, value json.RawMessage, isPublic bool, updatedBy string) (*models.SiteSetting, error) {
	query := `
		INSERT INTO site_settings (key, value, is_public, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()
		RETURNING key, value, is_public, updated_by, updated_at
	`
	var s models.SiteSetting
	if err := r.db.GetContext(ctx, &s, query, key, []byte(value), isPublic, updatedBy); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetBool reads a boolean setting, returning def when the key is missing or not a boolean
func (r *SettingsRepository) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	s, err := r.GetSetting(ctx, key)
	if err != nil || s == nil {
		return def, err
	}
	var b bool
	if json.Unmarshal(s.Value, &b) != nil {
		return def, nil
	}
	return b, nil
}

// Stats returns the admin dashboard counters in a single round trip
func (r *SettingsRepository) Stats(ctx context.Context) (*models.AdminStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM users WHERE email_verified_at IS NOT NULL) AS verified_users,
			(SELECT COUNT(*) FROM api_keys WHERE is_active AND (expires_at IS NULL OR expires_at > now())) AS active_api_keys,
			(SELECT COUNT(*) FROM tickets WHERE status <> 'closed') AS open_tickets,
			(SELECT COALESCE(SUM(amount), 0) FROM token_transactions WHERE kind = 'purchase') AS tokens_sold,
			(SELECT COUNT(*) FROM usage_logs WHERE created_at > now() - interval '24 hours') AS requests_24h,
			(SELECT COUNT(*) FROM users WHERE created_at > now() - interval '30 days') AS signups_30d
	`
	var stats models.AdminStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, err
	}
	return &stats, nil
}
