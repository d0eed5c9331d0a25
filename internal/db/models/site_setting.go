package models

import (
	"encoding/json"
	"time"
)

// SiteSetting is one admin-editable key/value setting. Value holds raw JSON.
type SiteSetting struct {
	Key       string          `db:"key" json:"key"`
	Value     json.RawMessage `db:"value" json:"value"`
	IsPublic  bool            `db:"is_public" json:"is_public"`
	UpdatedBy *string         `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// AdminStats is the admin dashboard summary
type AdminStats struct {
	Users          int64 `db:"users" json:"users"`
	VerifiedUsers  int64 `db:"verified_users" json:"verified_users"`
	ActiveAPIKeys  int64 `db:"active_api_keys" json:"active_api_keys"`
	OpenTickets    int64 `db:"open_tickets" json:"open_tickets"`
	TokensSold     int64 `db:"tokens_sold" json:"tokens_sold"`
	Requests24h    int64 `db:"requests_24h" json:"requests_24h"`
	SignupsLast30d int64 `db:"signups_30d" json:"signups_last_30d"`
}
