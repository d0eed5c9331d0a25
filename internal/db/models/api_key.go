// Package models defines the database model types for the Cadogy backend.
// Each type corresponds to a table. Models are plain data; query logic lives in the
// repositories package and business rules in services.
package models

import "time"

// API key types. A user typically holds one primary key and optional secondary keys
// used during rotation.
const (
	APIKeyTypePrimary   = "primary"
	APIKeyTypeSecondary = "secondary"
)

// APIKey represents a per-user API key
type APIKey struct {
	ID                       string     `json:"id"`
	UserID                   string     `json:"user_id"`
	Name                     string     `json:"name"`
	Type                     string     `json:"type"`
	KeyPrefix                string     `json:"-"` // first characters of the key, for display
	KeySuffix                string     `json:"-"` // last characters of the key, for display
	KeyHash                  string     `json:"-"` // SHA-256 of the full key, for lookup
	KeyCiphertext            string     `json:"-"` // AES-GCM sealed key, for owner reveal
	IsActive                 bool       `json:"is_active"`
	LastUsedAt               *time.Time `json:"last_used_at"`
	ExpiresAt                *time.Time `json:"expires_at"`
	ExpiryNotificationSentAt *time.Time `json:"-"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
	// Joined fields (not stored in api_keys table)
	UserEmail *string `json:"user_email,omitempty"`
	UserName  *string `json:"user_name,omitempty"`
}

// IsExpired reports whether the key has passed its expiry at t
func (k *APIKey) IsExpired(t time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(t)
}

// IsUsable reports whether the key may authenticate a request at t
func (k *APIKey) IsUsable(t time.Time) bool {
	return k.IsActive && !k.IsExpired(t)
}

// UsageLog records one request authenticated with a per-user API key
type UsageLog struct {
	ID         int64     `json:"id"`
	APIKeyID   *string   `json:"api_key_id"`
	UserID     string    `json:"user_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	LatencyMS  int       `json:"latency_ms"`
	TokensUsed int64     `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// UsageDay is one point of the dashboard usage series
type UsageDay struct {
	Day        time.Time `json:"day"`
	Requests   int64     `json:"requests"`
	Errors     int64     `json:"errors"`
	TokensUsed int64     `json:"tokens_used"`
}

// UsageSummary aggregates a user's API usage over a window
type UsageSummary struct {
	TotalRequests int64      `json:"total_requests"`
	TotalErrors   int64      `json:"total_errors"`
	TokensUsed    int64      `json:"tokens_used"`
	Days          []UsageDay `json:"days"`
}
