// ticket_repository.go implements TicketRepository: support tickets and their append-only
// message threads. User-facing lookups are scoped by owner in SQL.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/db"
	"github.com/cadogy/cadogy-backend/internal/db/models"
)

const ticketColumns = `t.id, t.user_id, t.subject, t.status, t.priority, t.created_at, t.updated_at, u.email,
	(SELECT COUNT(*) FROM ticket_messages m WHERE m.ticket_id = t.id)`

// TicketRepository handles ticket database operations
type TicketRepository struct {
	db *sql.DB
}

// NewTicketRepository creates a new TicketRepository
func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// TicketFilters narrows ticket listings. Empty fields are ignored.
type TicketFilters struct {
	UserID string
	Status string
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	t := &models.Ticket{}
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Subject,
		&t.Status,
		&t.Priority,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.UserEmail,
		&t.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTicket inserts a ticket together with its opening message
func (r *TicketRepository) CreateTicket(ctx context.Context, t *models.Ticket, body string) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = models.TicketStatusOpen
	}
	if t.Priority == "" {
		t.Priority = models.TicketPriorityNormal
	}

	msg := models.TicketMessage{
		ID:        uuid.New().String(),
		TicketID:  t.ID,
		AuthorID:  &t.UserID,
		Body:      body,
		CreatedAt: t.CreatedAt,
	}

	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (id, user_id, subject, status, priority, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, t.ID, t.UserID, t.Subject, t.Status, t.Priority, t.CreatedAt, t.UpdatedAt); err != nil {
			return err
		}
		return insertMessage(ctx, tx, &msg)
	})
	if err != nil {
		return err
	}
	t.MessageCount = 1
	t.Messages = []models.TicketMessage{msg}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *models.TicketMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_messages (id, ticket_id, author_id, is_staff, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.TicketID, m.AuthorID, m.IsStaff, m.Body, m.CreatedAt)
	return err
}

// GetTicket retrieves a ticket by ID. When ownerID is non-empty the ticket must belong to it.
func (r *TicketRepository) GetTicket(ctx context.Context, ticketID, ownerID string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t JOIN users u ON u.id = t.user_id WHERE t.id = $1`
	args := []interface{}{ticketID}
	if ownerID != "" {
		query += ` AND t.user_id = $2`
		args = append(args, ownerID)
	}

	t, err := scanTicket(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTickets returns a page of tickets, most recently updated first, and the total count
func (r *TicketRepository) ListTickets(ctx context.Context, filters TicketFilters, limit, offset int) ([]*models.Ticket, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0, 4)
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		where += fmt.Sprintf(` AND t.user_id = $%d`, len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(` AND t.status = $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets t JOIN users u ON u.id = t.user_id%s ORDER BY t.updated_at DESC LIMIT $%d OFFSET $%d`,
		ticketColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tickets := make([]*models.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		tickets = append(tickets, t)
	}
	return tickets, total, rows.Err()
}

// ListMessages returns a ticket's messages in chronological order
func (r *TicketRepository) ListMessages(ctx context.Context, ticketID string) ([]models.TicketMessage, error) {
	query := `
		SELECT m.id, m.ticket_id, m.author_id, m.is_staff, m.body, m.created_at, u.name
		FROM ticket_messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.ticket_id = $1
		ORDER BY m.created_at
	`
	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.TicketMessage, 0)
	for rows.Next() {
		var m models.TicketMessage
		if err := rows.Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.IsStaff, &m.Body, &m.CreatedAt, &m.AuthorName); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AddMessage appends a message and moves the ticket to newStatus (unchanged when empty)
func (r *TicketRepository) AddMessage(ctx context.Context, m *models.TicketMessage, newStatus string) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = COALESCE(NULLIF($2, ''), status), updated_at = $3 WHERE id = $1`,
			m.TicketID, newStatus, m.CreatedAt)
		return err
	})
}

// SetStatus changes a ticket's status. Returns false when the ticket does not exist.
func (r *TicketRepository) SetStatus(ctx context.Context, ticketID, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`, ticketID, status)
	return affected(res, err)
}
