// usage_repository.go implements UsageRepository: the per-request usage log written for
// API-key-authenticated calls and the dashboard aggregation over it.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

// UsageRepository handles usage log database operations
type UsageRepository struct {
	db *sql.DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// RecordUsage inserts a usage log row
func (r *UsageRepository) RecordUsage(ctx context.Context, u *models.UsageLog) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO usage_logs (api_key_id, user_id, method, path, status_code, latency_ms, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		u.APIKeyID,
		u.UserID,
		u.Method,
		u.Path,
		u.StatusCode,
		u.LatencyMS,
		u.TokensUsed,
		u.CreatedAt,
	).Scan(&u.ID)
}

// Summary aggregates a user's usage per UTC day over the last `days` days
func (r *UsageRepository) Summary(ctx context.Context, userID string, days int) (*models.UsageSummary, error) {
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status_code >= 400),
		       COALESCE(SUM(tokens_used), 0)
		FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day
	`
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &models.UsageSummary{Days: make([]models.UsageDay, 0, days)}
	for rows.Next() {
		var d models.UsageDay
		if err := rows.Scan(&d.Day, &d.Requests, &d.Errors, &d.TokensUsed); err != nil {
			return nil, err
		}
		summary.TotalRequests += d.Requests
		summary.TotalErrors += d.Errors
		summary.TokensUsed += d.TokensUsed
		summary.Days = append(summary.Days, d)
	}
	return summary, rows.Err()
}
