// Package audit records security-relevant actions (admin changes, API key management, token
// adjustments) to the audit_logs table and optionally ships each entry to external
// destinations such as a SIEM webhook or an append-only JSON lines file.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cadogy/cadogy-backend/internal/config"
)

// LogEntry is the wire form of an audit record sent to shippers
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	AuthMethod   string                 `json:"auth_method,omitempty"`
	StatusCode   int                    `json:"status_code,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper delivers audit entries to one destination
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// MultiShipper fans entries out to every enabled destination
type MultiShipper struct {
	shippers []Shipper
}

// NewMultiShipper builds the configured shippers. Disabled entries are skipped.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var (
			s   Shipper
			err error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil || cfg.Webhook.URL == "" {
				return nil, errors.New("audit webhook shipper requires webhook.url")
			}
			s, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil || cfg.File.Path == "" {
				return nil, errors.New("audit file shipper requires file.path")
			}
			s, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown audit shipper type %q", cfg.Type)
		}
		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to create %s audit shipper: %w", cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, s)
	}
	return ms, nil
}

// Len returns the number of active shippers
func (ms *MultiShipper) Len() int {
	return len(ms.shippers)
}

// Ship sends the entry to every shipper. A failing destination does not stop the others;
// the joined error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every shipper
func (ms *MultiShipper) Close() error {
	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper POSTs entries as JSON. With a batch size, entries are buffered and sent
// as a JSON array when the batch fills, on each flush interval, and on Close.
type WebhookShipper struct {
	url       string
	headers   map[string]string
	timeout   time.Duration
	batchSize int
	flush     time.Duration
	client    *http.Client

	queue     chan *LogEntry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebhookShipper creates a webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = 5 * time.Second
	}

	ws := &WebhookShipper{
		url:       cfg.URL,
		headers:   cfg.Headers,
		timeout:   timeout,
		batchSize: cfg.BatchSize,
		flush:     flush,
		client:    &http.Client{Timeout: timeout},
		queue:     make(chan *LogEntry, 1000),
		done:      make(chan struct{}),
	}
	if ws.batchSize > 0 {
		ws.wg.Add(1)
		go ws.run()
	}
	return ws, nil
}

func (ws *WebhookShipper) run() {
	defer ws.wg.Done()

	ticker := time.NewTicker(ws.flush)
	defer ticker.Stop()

	batch := make([]*LogEntry, 0, ws.batchSize)
	send := func() {
		if len(batch) == 0 {
			return
		}
		ws.post(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ws.queue:
			batch = append(batch, e)
			if len(batch) >= ws.batchSize {
				send()
			}
		case <-ticker.C:
			send()
		case <-ws.done:
			for {
				select {
				case e := <-ws.queue:
					batch = append(batch, e)
				default:
					send()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) post(batch []*LogEntry) {
	data, err := json.Marshal(batch)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()
	if err := ws.send(ctx, data); err != nil {
		slog.Error("failed to ship audit batch", "entries", len(batch), "error", err)
	}
}

// Ship queues the entry when batching, otherwise sends it immediately. A full queue falls
// back to a direct send.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.batchSize > 0 {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.send(ctx, data)
}

func (ws *WebhookShipper) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create audit webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any buffered entries and stops the batch goroutine
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.done) })
	ws.wg.Wait()
	return nil
}

// FileShipper appends entries as JSON lines, rotating by size when configured
type FileShipper struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the audit file for appending
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	f, err := openAppend(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{
		path:       cfg.Path,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		file:       f,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// Ship writes the entry as one line
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.maxBytes > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > fs.maxBytes {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate audit log", "path", fs.path, "error", err)
			}
		}
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens path
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}
	for i := fs.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.path, i), fmt.Sprintf("%s.%d", fs.path, i+1))
	}
	_ = os.Rename(fs.path, fs.path+".1")
	if fs.maxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.path, fs.maxBackups+1))
	}

	f, err := openAppend(fs.path)
	if err != nil {
		return err
	}
	fs.file = f
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
