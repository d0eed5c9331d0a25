package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

var errDB = errors.New("db error")

var userCols = []string{
	"id", "email", "password_hash", "email_verified_at", "role", "name",
	"image", "oidc_sub", "token_balance", "created_at", "updated_at",
}

func sampleUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice@example.com", "$2a$12$hash", time.Now(), "user", "Alice",
			nil, nil, int64(250), time.Now(), time.Now())
}

func emptyUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols)
}

func newMockDB(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(db), mock
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestGetUserByID_Found(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(sampleUserRow())

	user, err := repo.GetUserByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.ID != "user-1" || user.TokenBalance != 250 {
		t.Errorf("user = %+v", user)
	}
	if !user.IsVerified() || !user.HasPassword() {
		t.Error("expected a verified user with a password")
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("missing").
		WillReturnRows(emptyUserRow())

	user, err := repo.GetUserByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user for not found, got %v", user)
	}
}

func TestGetUserByID_DBError(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnError(errDB)

	if _, err := repo.GetUserByID(context.Background(), "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetUserByEmail_CaseInsensitive(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT.*FROM users WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("Alice@Example.com").
		WillReturnRows(sampleUserRow())

	user, err := repo.GetUserByEmail(context.Background(), "  Alice@Example.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
}

func TestGetUserByOIDCSub_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT.*FROM users WHERE oidc_sub").
		WithArgs("sub-missing").
		WillReturnRows(emptyUserRow())

	user, err := repo.GetUserByOIDCSub(context.Background(), "sub-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Error("expected nil, got non-nil")
	}
}

// ---------------------------------------------------------------------------
// CreateUser
// ---------------------------------------------------------------------------

func TestCreateUser_Success(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Email: " Bob@Example.com", Name: "Bob"}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == "" {
		t.Error("expected ID to be set")
	}
	if user.Email != "bob@example.com" {
		t.Errorf("Email = %q, want lower-cased and trimmed", user.Email)
	}
	if user.Role != "user" {
		t.Errorf("Role = %q, want default user", user.Role)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_lower_idx"})

	err := repo.CreateUser(context.Background(), &models.User{Email: "bob@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestCreateUser_DBError(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO users").WillReturnError(errDB)

	err := repo.CreateUser(context.Background(), &models.User{Email: "bob@example.com"})
	if err == nil || errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want raw db error", err)
	}
}

// ---------------------------------------------------------------------------
// Updates
// ---------------------------------------------------------------------------

func TestUpdateProfile_DoesNotTouchRole(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE users SET name = \$2, image = \$3`).
		WithArgs("user-1", "Alice", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateProfile(context.Background(), "user-1", "Alice", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSetRole(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("UPDATE users SET role").
		WithArgs("user-1", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET role").
		WithArgs("missing", "admin").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetRole(context.Background(), "user-1", "admin")
	if err != nil || !ok {
		t.Errorf("SetRole existing = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = repo.SetRole(context.Background(), "missing", "admin")
	if err != nil || ok {
		t.Errorf("SetRole missing = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestDeleteUser_DBError(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM users").WillReturnError(errDB)

	if _, err := repo.DeleteUser(context.Background(), "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListUsers
// ---------------------------------------------------------------------------

func TestListUsers_WithSearch(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT.*FROM users WHERE email ILIKE").
		WithArgs("%ali%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM users WHERE email ILIKE.*LIMIT").
		WithArgs("%ali%", 20, 0).
		WillReturnRows(sampleUserRow())

	users, total, err := repo.ListUsers(context.Background(), "ali", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(users) != 1 {
		t.Errorf("ListUsers = %d users, total %d; want 1, 1", len(users), total)
	}
}

func TestListUsers_NoSearch(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT.*FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT.*FROM users ORDER BY created_at DESC").
		WithArgs(50, 100).
		WillReturnRows(emptyUserRow())

	users, total, err := repo.ListUsers(context.Background(), "", 50, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(users) != 0 {
		t.Errorf("ListUsers = %v, %d", users, total)
	}
}
