package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

var apiKeyCols = []string{
	"id", "user_id", "name", "type", "key_prefix", "key_suffix", "key_hash", "key_ciphertext",
	"is_active", "last_used_at", "expires_at", "expiry_notification_sent_at", "created_at", "updated_at",
}

func sampleAPIKeyRow() *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "user-1", "CI", "primary", "cdg_abcd", "WXYZ", "hash", "cipher",
			true, nil, nil, nil, time.Now(), time.Now())
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(db), mock
}

func TestCreateAPIKey_DefaultsType(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	key := &models.APIKey{UserID: "user-1", Name: "CI", KeyHash: "h", IsActive: true}
	if err := repo.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ID == "" {
		t.Error("expected ID to be set")
	}
	if key.Type != models.APIKeyTypePrimary {
		t.Errorf("Type = %q, want primary", key.Type)
	}
}

func TestGetAPIKeyByHash(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys k WHERE k.key_hash").
		WithArgs("hash").
		WillReturnRows(sampleAPIKeyRow())
	mock.ExpectQuery("SELECT.*FROM api_keys k WHERE k.key_hash").
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	key, err := repo.GetAPIKeyByHash(context.Background(), "hash")
	if err != nil || key == nil {
		t.Fatalf("GetAPIKeyByHash = (%v, %v)", key, err)
	}
	if key.UserID != "user-1" || !key.IsActive {
		t.Errorf("key = %+v", key)
	}

	key, err = repo.GetAPIKeyByHash(context.Background(), "unknown")
	if err != nil || key != nil {
		t.Errorf("GetAPIKeyByHash unknown = (%v, %v), want (nil, nil)", key, err)
	}
}

func TestGetAPIKeyForOwner_ScopesByUser(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery(`WHERE k.id = \$1 AND k.user_id = \$2`).
		WithArgs("key-1", "intruder").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	key, err := repo.GetAPIKeyForOwner(context.Background(), "key-1", "intruder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Error("foreign key must not be returned")
	}
}

func TestListAPIKeysByUser(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys k WHERE k.user_id.*ORDER BY").
		WithArgs("user-1").
		WillReturnRows(sampleAPIKeyRow())

	keys, err := repo.ListAPIKeysByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len(keys) = %d, want 1", len(keys))
	}
}

func TestSetActiveForOwner(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec(`UPDATE api_keys SET is_active = \$3.*WHERE id = \$1 AND user_id = \$2`).
		WithArgs("key-1", "user-2", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetActiveForOwner(context.Background(), "key-1", "user-2", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("toggle by non-owner must report no rows")
	}
}

func TestDeleteForOwner(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("DELETE FROM api_keys WHERE id = .* AND user_id").
		WithArgs("key-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.DeleteForOwner(context.Background(), "key-1", "user-1")
	if err != nil || !ok {
		t.Errorf("DeleteForOwner = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestUpdateLastUsed_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.UpdateLastUsed(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListExpiringKeys_JoinsOwner(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	expires := time.Now().Add(48 * time.Hour)
	rows := sqlmock.NewRows(append(append([]string{}, apiKeyCols...), "email", "name")).
		AddRow("key-1", "user-1", "CI", "primary", "cdg_abcd", "WXYZ", "hash", "cipher",
			true, nil, expires, nil, time.Now(), time.Now(), "alice@example.com", "Alice")
	mock.ExpectQuery("SELECT.*FROM api_keys k JOIN users u.*expiry_notification_sent_at IS NULL").
		WillReturnRows(rows)

	keys, err := repo.ListExpiringKeys(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(keys))
	}
	if keys[0].UserEmail == nil || *keys[0].UserEmail != "alice@example.com" {
		t.Errorf("UserEmail = %v", keys[0].UserEmail)
	}
}

func TestMarkExpiryNotificationSent(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET expiry_notification_sent_at").
		WithArgs("key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkExpiryNotificationSent(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
