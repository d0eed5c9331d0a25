// Package jobs contains the periodic background jobs run by the server process.
//
// api_key_expiry_notifier.go implements the APIKeyExpiryNotifier, which periodically scans
// for API keys approaching their expiry date and emails the owner. Notification state is
// persisted in the database (expiry_notification_sent_at) so each key is warned about
// exactly once, even across restarts. The job is a no-op when outbound email is disabled.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadogy/cadogy-backend/internal/auth"
	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

const (
	defaultExpiryInterval    = 24 * time.Hour
	defaultExpiryWarningDays = 7
)

// ExpiringKeyStore is implemented by *repositories.APIKeyRepository
type ExpiringKeyStore interface {
	ListExpiringKeys(ctx context.Context, within time.Duration) ([]*models.APIKey, error)
	MarkExpiryNotificationSent(ctx context.Context, keyID string) error
}

// SyncSender is implemented by *email.Dispatcher. The notifier sends synchronously so a
// key is only marked once its warning has actually gone out.
type SyncSender interface {
	SendNow(ctx context.Context, msg email.Message) error
}

// APIKeyExpiryNotifier periodically emails users whose API keys are about to expire.
type APIKeyExpiryNotifier struct {
	keys        ExpiringKeyStore
	sender      SyncSender
	templates   *email.Templates
	enabled     bool
	interval    time.Duration
	warningDays int
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewAPIKeyExpiryNotifier creates a new APIKeyExpiryNotifier. A non-positive interval
// defaults to 24h and a non-positive warning window to 7 days.
func NewAPIKeyExpiryNotifier(keys ExpiringKeyStore, sender SyncSender, templates *email.Templates, emailCfg config.EmailConfig, jobsCfg config.JobsConfig) *APIKeyExpiryNotifier {
	interval := jobsCfg.APIKeyExpiryInterval
	if interval <= 0 {
		interval = defaultExpiryInterval
	}
	days := jobsCfg.APIKeyExpiryWarningDays
	if days <= 0 {
		days = defaultExpiryWarningDays
	}
	return &APIKeyExpiryNotifier{
		keys:        keys,
		sender:      sender,
		templates:   templates,
		enabled:     emailCfg.Enabled,
		interval:    interval,
		warningDays: days,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// Start runs an initial check immediately, then repeats on the configured interval. It
// blocks until ctx is cancelled or Stop is called.
func (n *APIKeyExpiryNotifier) Start(ctx context.Context) {
	if !n.enabled {
		slog.Info("api key expiry notifier disabled (email.enabled=false)")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	slog.Info("api key expiry notifier started", "interval", n.interval, "warning_days", n.warningDays)
	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			slog.Info("api key expiry notifier stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (n *APIKeyExpiryNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopChan) })
}

// runCheck warns the owner of every key entering the window and returns how many emails
// were sent.
func (n *APIKeyExpiryNotifier) runCheck(ctx context.Context) int {
	keys, err := n.keys.ListExpiringKeys(ctx, time.Duration(n.warningDays)*24*time.Hour)
	if err != nil {
		slog.Error("api key expiry notifier: failed to query expiring keys", "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	slog.Info("api key expiry notifier: keys approaching expiry", "count", len(keys))

	sent := 0
	for _, key := range keys {
		if key.UserEmail == nil || *key.UserEmail == "" || key.ExpiresAt == nil {
			continue
		}
		name := ""
		if key.UserName != nil {
			name = *key.UserName
		}
		msg, err := n.templates.APIKeyExpiry(*key.UserEmail, name, key.Name,
			auth.MaskAPIKey(key.KeyPrefix, key.KeySuffix), *key.ExpiresAt, n.now())
		if err != nil {
			slog.Error("api key expiry notifier: failed to render email", "key_id", key.ID, "error", err)
			continue
		}
		if err := n.sender.SendNow(ctx, msg); err != nil {
			slog.Warn("api key expiry notifier: failed to send email", "key_id", key.ID, "error", err)
			continue
		}
		telemetry.APIKeyExpiryNotificationsSentTotal.Inc()
		sent++

		if err := n.keys.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
			slog.Error("api key expiry notifier: failed to mark key notified", "key_id", key.ID, "error", err)
		}
	}
	return sent
}
