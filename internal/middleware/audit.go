// audit.go provides Gin middleware that records authenticated write operations to the audit
// log.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/safego"
)

// Handlers may set these keys to replace the derived action name, resource type and
// resource id with something more specific, e.g. "user.role_changed".
const (
	AuditActionKey       = "audit_action"
	AuditResourceTypeKey = "audit_resource_type"
	AuditResourceIDKey   = "audit_resource_id"
	AuditMetadataKey     = "audit_metadata"
)

// AuditRecorder is implemented by *audit.Recorder
type AuditRecorder interface {
	Record(ctx context.Context, log *models.AuditLog, authMethod string, status int) error
}

// AuditMiddleware records successful mutating requests made by an authenticated caller.
// Failed requests are recorded too when logFailed is set.
func AuditMiddleware(rec AuditRecorder, logFailed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		status := c.Writer.Status()
		if status >= 400 && !logFailed {
			return
		}
		userID := c.GetString(UserIDKey)
		if userID == "" {
			return
		}

		entry := buildAuditLog(c, userID, status)
		authMethod := c.GetString(AuthMethodKey)
		safego.GoWithTimeout("audit-log", 5*time.Second, func(ctx context.Context) error {
			if err := rec.Record(ctx, entry, authMethod, status); err != nil {
				slog.Error("failed to record audit log", "action", entry.Action, "error", err)
			}
			return nil
		})
	}
}

func buildAuditLog(c *gin.Context, userID string, status int) *models.AuditLog {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}

	action := c.GetString(AuditActionKey)
	if action == "" {
		action = c.Request.Method + " " + route
	}
	resourceType := c.GetString(AuditResourceTypeKey)
	if resourceType == "" {
		resourceType = resourceFromRoute(route)
	}
	resourceID := c.GetString(AuditResourceIDKey)
	if resourceID == "" {
		resourceID = c.Param("id")
	}

	metadata := map[string]interface{}{"status_code": status}
	if extra, ok := c.Get(AuditMetadataKey); ok {
		if m, ok := extra.(map[string]interface{}); ok {
			for k, v := range m {
				metadata[k] = v
			}
		}
	}
	if rid := RequestID(c); rid != "" {
		metadata["request_id"] = rid
	}

	ip := c.ClientIP()
	log := &models.AuditLog{
		UserID:    &userID,
		Action:    action,
		Metadata:  metadata,
		IPAddress: &ip,
		CreatedAt: time.Now(),
	}
	if resourceType != "" {
		log.ResourceType = &resourceType
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	return log
}

// resourceFromRoute maps a route template to its resource type, e.g.
// /api/admin/users/:id/role → "user", /api/dashboard/api-keys/:id → "api_key",
// /api/v1/tokens/consume → "token"
func resourceFromRoute(route string) string {
	parts := strings.Split(strings.Trim(route, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" {
		return ""
	}
	seg := parts[2]
	switch seg {
	case "users":
		return "user"
	case "api-keys":
		return "api_key"
	case "tickets":
		return "ticket"
	case "tokens", "token-transactions":
		return "token"
	case "settings":
		return "setting"
	case "profile", "avatar", "change-password":
		return "user"
	default:
		return strings.TrimSuffix(strings.ReplaceAll(seg, "-", "_"), "s")
	}
}
