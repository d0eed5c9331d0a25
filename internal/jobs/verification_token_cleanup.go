package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

const defaultCleanupInterval = time.Hour

// ExpiredTokenPurger is implemented by *repositories.VerificationTokenRepository
type ExpiredTokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// VerificationTokenCleanup deletes expired email verification and password reset tokens.
// Expired tokens are already rejected on use; the job only keeps the table small.
type VerificationTokenCleanup struct {
	tokens   ExpiredTokenPurger
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewVerificationTokenCleanup creates the job. A non-positive interval defaults to 1h.
func NewVerificationTokenCleanup(tokens ExpiredTokenPurger, interval time.Duration) *VerificationTokenCleanup {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &VerificationTokenCleanup{tokens: tokens, interval: interval, stopChan: make(chan struct{})}
}

// Start purges once immediately and then on every tick until ctx is cancelled or Stop is
// called.
func (j *VerificationTokenCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("verification token cleanup started", "interval", j.interval)
	j.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.runOnce(ctx)
		case <-j.stopChan:
			slog.Info("verification token cleanup stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (j *VerificationTokenCleanup) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

func (j *VerificationTokenCleanup) runOnce(ctx context.Context) int64 {
	n, err := j.tokens.PurgeExpired(ctx)
	if err != nil {
		slog.Error("verification token cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		telemetry.ExpiredVerificationTokensPurgedTotal.Add(float64(n))
		slog.Info("purged expired verification tokens", "count", n)
	}
	return n
}
