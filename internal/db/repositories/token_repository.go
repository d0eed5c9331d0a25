// token_repository.go implements TokenRepository, the token balance ledger. Every balance
// change goes through Apply, which updates users.token_balance and appends the ledger row in
// one transaction.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/db"
	"github.com/cadogy/cadogy-backend/internal/db/models"
)

// TokenRepository handles token ledger database operations
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Apply locks the user's balance row, rejects entries that would take it below zero, writes
// the new balance and inserts the ledger row with BalanceAfter filled in. An entry whose
// Reference was already recorded returns ErrDuplicateReference and changes nothing.
func (r *TokenRepository) Apply(ctx context.Context, entry *models.TokenTransaction) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if entry.Reference != nil {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM token_transactions WHERE reference = $1)`, *entry.Reference,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return ErrDuplicateReference
			}
		}

		var balance int64
		err := tx.QueryRowContext(ctx,
			`SELECT token_balance FROM users WHERE id = $1 FOR UPDATE`, entry.UserID,
		).Scan(&balance)
		if err == sql.ErrNoRows {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		if entry.Amount > 0 && balance > math.MaxInt64-entry.Amount {
			return ErrBalanceOverflow
		}
		next := balance + entry.Amount
		if next < 0 {
			return ErrInsufficientBalance
		}
		entry.BalanceAfter = next

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET token_balance = $2, updated_at = now() WHERE id = $1`, entry.UserID, next,
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO token_transactions (id, user_id, kind, amount, balance_after, description, reference, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, entry.ID, entry.UserID, entry.Kind, entry.Amount, entry.BalanceAfter, entry.Description,
			entry.Reference, entry.CreatedBy, entry.CreatedAt)
		if isUniqueViolation(err) {
			// a concurrent request recorded the same reference first
			return ErrDuplicateReference
		}
		return err
	})
}

// GetBalance returns the user's current token balance
func (r *TokenRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT token_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	return balance, err
}

// ListTransactions returns a page of ledger rows, newest first. An empty userID lists all users.
func (r *TokenRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.TokenTransaction, int, error) {
	where := ``
	args := make([]interface{}, 0, 3)
	if userID != "" {
		where = ` WHERE t.user_id = $1`
		args = append(args, userID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_transactions t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.user_id, t.kind, t.amount, t.balance_after, t.description, t.reference, t.created_by, t.created_at, u.email
		FROM token_transactions t
		JOIN users u ON u.id = t.user_id%s
		ORDER BY t.created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txs := make([]*models.TokenTransaction, 0)
	for rows.Next() {
		t := &models.TokenTransaction{}
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Kind,
			&t.Amount,
			&t.BalanceAfter,
			&t.Description,
			&t.Reference,
			&t.CreatedBy,
			&t.CreatedAt,
			&t.UserEmail,
		); err != nil {
			return nil, 0, err
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}
