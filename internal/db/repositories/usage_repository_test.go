package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

func newUsageRepo(t *testing.T) (*UsageRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUsageRepository(db), mock
}

func TestRecordUsage(t *testing.T) {
	repo, mock := newUsageRepo(t)
	mock.ExpectQuery("INSERT INTO usage_logs.*RETURNING id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	keyID := "key-1"
	u := &models.UsageLog{APIKeyID: &keyID, UserID: "user-1", Method: "GET", Path: "/api/v1/status", StatusCode: 200}
	if err := repo.RecordUsage(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 42 || u.CreatedAt.IsZero() {
		t.Errorf("usage log = %+v", u)
	}
}

func TestSummary_Totals(t *testing.T) {
	repo, mock := newUsageRepo(t)
	day := time.Now().UTC().Truncate(24 * time.Hour)
	mock.ExpectQuery("SELECT date_trunc.*FROM usage_logs.*GROUP BY day").
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count", "errors", "tokens"}).
			AddRow(day.AddDate(0, 0, -1), int64(10), int64(1), int64(3)).
			AddRow(day, int64(5), int64(0), int64(2)))

	s, err := repo.Summary(context.Background(), "user-1", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalRequests != 15 || s.TotalErrors != 1 || s.TokensUsed != 5 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Days) != 2 {
		t.Errorf("len(Days) = %d, want 2", len(s.Days))
	}
}
