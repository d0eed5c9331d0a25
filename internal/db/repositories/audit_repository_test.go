package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

var auditCols = []string{
	"id", "user_id", "action", "resource_type", "resource_id", "metadata", "ip_address", "created_at", "email",
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(db), mock
}

func sampleAuditRow() *sqlmock.Rows {
	return sqlmock.NewRows(auditCols).
		AddRow("log-1", "admin-1", "user.role_changed", "user", "user-2",
			[]byte(`{"role":"admin"}`), "1.2.3.4", time.Now(), "admin@example.com")
}

func TestCreateAuditLog(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{Action: "ticket.replied", Metadata: map[string]interface{}{"status": "pending"}}
	if err := repo.CreateAuditLog(context.Background(), log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.ID == "" {
		t.Error("expected ID to be set")
	}
}

func TestCreateAuditLog_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errDB)

	if err := repo.CreateAuditLog(context.Background(), &models.AuditLog{Action: "x"}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListAuditLogs_WithFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	action := "user.role_changed"
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT COUNT.*FROM audit_logs a WHERE 1=1 AND a.action = \$1 AND a.created_at >= \$2`).
		WithArgs(action, since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT.*FROM audit_logs a LEFT JOIN users u.*LIMIT \$3 OFFSET \$4`).
		WithArgs(action, since, 25, 0).
		WillReturnRows(sampleAuditRow())

	logs, total, err := repo.ListAuditLogs(context.Background(), AuditFilters{Action: &action, StartDate: &since}, 25, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("ListAuditLogs = %d, %d", len(logs), total)
	}
	if logs[0].Metadata["role"] != "admin" {
		t.Errorf("Metadata = %v", logs[0].Metadata)
	}
}

func TestGetAuditLog_NotFound(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT.*FROM audit_logs a.*WHERE a.id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auditCols))

	log, err := repo.GetAuditLog(context.Background(), "missing")
	if err != nil || log != nil {
		t.Errorf("GetAuditLog = (%v, %v), want (nil, nil)", log, err)
	}
}
