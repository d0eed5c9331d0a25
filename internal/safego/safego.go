// Package safego provides panic-recovering goroutine launchers for fire-and-forget work
// such as email dispatch, usage logging and last-used timestamps.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine. A panic inside fn is recovered and logged with the
// task name instead of crashing the process.
func Go(task string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "task", task, "panic", r)
			}
		}()
		fn()
	}()
}

// GoWithTimeout launches fn detached from any request context with its own deadline.
// Used for best-effort writes that must outlive the HTTP request that triggered them.
func GoWithTimeout(task string, timeout time.Duration, fn func(ctx context.Context) error) {
	Go(task, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("background task failed", "task", task, "error", err)
		}
	})
}
