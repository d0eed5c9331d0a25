package admin

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// AuditHandlers serves the audit trail
type AuditHandlers struct {
	auditRepo *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(db *sql.DB) *AuditHandlers {
	return &AuditHandlers{auditRepo: repositories.NewAuditRepository(db)}
}

// AuditListQuery filters GET /api/admin/audit-logs
type AuditListQuery struct {
	validation.PageQuery
	UserID       string     `form:"user_id" binding:"omitempty,uuid"`
	Action       string     `form:"action" binding:"omitempty,max=100"`
	ResourceType string     `form:"resource_type" binding:"omitempty,max=50"`
	StartDate    *time.Time `form:"start_date" time_format:"2006-01-02T15:04:05Z07:00"`
	EndDate      *time.Time `form:"end_date" time_format:"2006-01-02T15:04:05Z07:00"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// @Summary      List audit logs
// @Tags         Admin
// @Produce      json
// @Param        user_id        query  string  false  "Actor"
// @Param        action         query  string  false  "Action, e.g. user.role_changed"
// @Param        resource_type  query  string  false  "Resource type, e.g. ticket"
// @Param        start_date     query  string  false  "RFC 3339 lower bound"
// @Param        end_date       query  string  false  "RFC 3339 upper bound"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "logs, pagination"
// @Router       /api/admin/audit-logs [get]
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q AuditListQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		page, perPage, offset := q.Limits()

		logs, total, err := h.auditRepo.ListAuditLogs(c.Request.Context(), repositories.AuditFilters{
			UserID:       optional(q.UserID),
			Action:       optional(q.Action),
			ResourceType: optional(q.ResourceType),
			StartDate:    q.StartDate,
			EndDate:      q.EndDate,
		}, perPage, offset)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get audit log entry
// @Tags         Admin
// @Param        id  path  string  true  "Audit log ID"
// @Success      200  {object}  models.AuditLog
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/audit-logs/{id} [get]
func (h *AuditHandlers) GetAuditLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		entry, err := h.auditRepo.GetAuditLog(c.Request.Context(), id)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if entry == nil {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "audit log not found"))
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}
