package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

var ticketCols = []string{"id", "user_id", "subject", "status", "priority", "created_at", "updated_at", "email", "count"}

func newTicketRepo(t *testing.T) (*TicketRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTicketRepository(db), mock
}

func sampleTicketRow() *sqlmock.Rows {
	return sqlmock.NewRows(ticketCols).
		AddRow("t-1", "user-1", "Billing question", "open", "normal", time.Now(), time.Now(), "alice@example.com", 2)
}

func TestCreateTicket_InsertsOpeningMessage(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tickets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ticket_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ticket := &models.Ticket{UserID: "user-1", Subject: "Help"}
	if err := repo.CreateTicket(context.Background(), ticket, "It broke"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticket.Status != models.TicketStatusOpen || ticket.Priority != models.TicketPriorityNormal {
		t.Errorf("defaults not applied: %+v", ticket)
	}
	if len(ticket.Messages) != 1 || ticket.Messages[0].Body != "It broke" {
		t.Errorf("Messages = %+v", ticket.Messages)
	}
}

func TestCreateTicket_RollsBack(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tickets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ticket_messages").WillReturnError(errDB)
	mock.ExpectRollback()

	if err := repo.CreateTicket(context.Background(), &models.Ticket{UserID: "u"}, "x"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetTicket_OwnerScoped(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectQuery(`WHERE t.id = \$1 AND t.user_id = \$2`).
		WithArgs("t-1", "user-2").
		WillReturnRows(sqlmock.NewRows(ticketCols))

	ticket, err := repo.GetTicket(context.Background(), "t-1", "user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticket != nil {
		t.Error("other user's ticket must not be returned")
	}
}

func TestGetTicket_AdminUnscoped(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectQuery(`WHERE t.id = \$1$`).
		WithArgs("t-1").
		WillReturnRows(sampleTicketRow())

	ticket, err := repo.GetTicket(context.Background(), "t-1", "")
	if err != nil || ticket == nil {
		t.Fatalf("GetTicket = (%v, %v)", ticket, err)
	}
	if ticket.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", ticket.MessageCount)
	}
}

func TestListTickets_StatusFilter(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM tickets t WHERE 1=1 AND t.status").
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM tickets t JOIN users u.*ORDER BY t.updated_at DESC").
		WithArgs("open", 20, 0).
		WillReturnRows(sampleTicketRow())

	tickets, total, err := repo.ListTickets(context.Background(), TicketFilters{Status: "open"}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(tickets) != 1 {
		t.Errorf("ListTickets = %d, %d", len(tickets), total)
	}
}

func TestAddMessage_UpdatesStatus(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ticket_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tickets SET status").
		WithArgs("t-1", models.TicketStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	staff := "admin-1"
	msg := &models.TicketMessage{TicketID: "t-1", AuthorID: &staff, IsStaff: true, Body: "On it"}
	if err := repo.AddMessage(context.Background(), msg, models.TicketStatusPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected message ID to be set")
	}
}

func TestListMessages(t *testing.T) {
	repo, mock := newTicketRepo(t)
	mock.ExpectQuery("SELECT.*FROM ticket_messages m").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ticket_id", "author_id", "is_staff", "body", "created_at", "name"}).
			AddRow("m-1", "t-1", "user-1", false, "Hello", time.Now(), "Alice").
			AddRow("m-2", "t-1", nil, true, "Hi", time.Now(), nil))

	msgs, err := repo.ListMessages(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || !msgs[1].IsStaff {
		t.Errorf("messages = %+v", msgs)
	}
}
