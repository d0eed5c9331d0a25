package audit

import (
	"context"
	"log/slog"

	"github.com/cadogy/cadogy-backend/internal/db/models"
)

// Store is implemented by *repositories.AuditRepository
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder persists audit rows and forwards them to the shippers
type Recorder struct {
	store   Store
	shipper Shipper
}

// NewRecorder creates a recorder. shipper may be nil.
func NewRecorder(store Store, shipper Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper}
}

// Record writes the row and ships it. Shipping failures are logged and do not fail the
// call; the database row is the record of truth.
func (r *Recorder) Record(ctx context.Context, log *models.AuditLog, authMethod string, status int) error {
	if r.store != nil {
		if err := r.store.CreateAuditLog(ctx, log); err != nil {
			return err
		}
	}
	if r.shipper == nil {
		return nil
	}
	if err := r.shipper.Ship(ctx, EntryFromLog(log, authMethod, status)); err != nil {
		slog.Warn("failed to ship audit entry", "action", log.Action, "error", err)
	}
	return nil
}

// EntryFromLog converts a stored row to its shipped form
func EntryFromLog(log *models.AuditLog, authMethod string, status int) *LogEntry {
	return &LogEntry{
		Timestamp:    log.CreatedAt,
		Action:       log.Action,
		UserID:       deref(log.UserID),
		ResourceType: deref(log.ResourceType),
		ResourceID:   deref(log.ResourceID),
		IPAddress:    deref(log.IPAddress),
		AuthMethod:   authMethod,
		StatusCode:   status,
		Metadata:     log.Metadata,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
