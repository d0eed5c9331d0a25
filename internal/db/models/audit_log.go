// Package models - audit_log.go defines the AuditLog model for admin and security events,
// capturing actor, action, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"user_id"`       // nil for system actions
	Action       string                 `json:"action"`        // "user.role_changed", "ticket.replied"
	ResourceType *string                `json:"resource_type"` // "user", "ticket", "api_key", "setting"
	ResourceID   *string                `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    *string                `json:"ip_address"`
	CreatedAt    time.Time              `json:"created_at"`
	// Joined fields
	UserEmail *string `json:"user_email,omitempty"`
}
