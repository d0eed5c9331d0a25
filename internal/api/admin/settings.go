package admin

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

var settingKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,63}$`)

// SettingsHandlers handles site settings and the dashboard counters
type SettingsHandlers struct {
	settingsRepo *repositories.SettingsRepository
}

// NewSettingsHandlers creates a new SettingsHandlers instance
func NewSettingsHandlers(db *sqlx.DB) *SettingsHandlers {
	return &SettingsHandlers{settingsRepo: repositories.NewSettingsRepository(db)}
}

// PutSettingRequest is the body of PUT /api/admin/settings/:key. IsPublic only applies
// when the key is created.
type PutSettingRequest struct {
	Value    json.RawMessage `json:"value" binding:"required"`
	IsPublic bool            `json:"is_public"`
}

// @Summary      List settings
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "settings: []models.SiteSetting"
// @Router       /api/admin/settings [get]
func (h *SettingsHandlers) ListSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := h.settingsRepo.ListSettings(c.Request.Context(), false)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": settings})
	}
}

// @Summary      Create or update a setting
// @Tags         Admin
// @Accept       json
// @Param        key   path  string             true  "Setting key"
// @Param        body  body  PutSettingRequest  true  "JSON value"
// @Success      200  {object}  models.SiteSetting
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/admin/settings/{key} [put]
func (h *SettingsHandlers) PutSettingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if !settingKeyPattern.MatchString(key) {
			apperr.Respond(c, apperr.Validation(map[string]string{"key": "must be lower-case letters, digits, '.' or '_'"}))
			return
		}
		var req PutSettingRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if !json.Valid(req.Value) {
			apperr.Respond(c, apperr.Validation(map[string]string{"value": "must be valid JSON"}))
			return
		}

		setting, err := h.settingsRepo.UpsertSetting(c.Request.Context(), key, req.Value, req.IsPublic, c.GetString(middleware.UserIDKey))
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.Set(middleware.AuditActionKey, "setting.updated")
		c.Set(middleware.AuditResourceTypeKey, "setting")
		c.Set(middleware.AuditResourceIDKey, key)
		c.JSON(http.StatusOK, setting)
	}
}

// @Summary      Dashboard statistics
// @Description  Users, verified users, active keys, open tickets, tokens sold and requests in the last 24 hours
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  models.AdminStats
// @Router       /api/admin/stats [get]
func (h *SettingsHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.settingsRepo.Stats(c.Request.Context())
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
