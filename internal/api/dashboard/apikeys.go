// Package dashboard implements the signed-in user's self-service handlers under
// /api/dashboard: API keys, usage, support tickets and token purchases. Every handler
// expects the session guard to have attached the user.
package dashboard

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/services"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// KeyService is implemented by *services.APIKeyService
type KeyService interface {
	List(ctx context.Context, userID string) ([]services.KeyView, error)
	Create(ctx context.Context, userID string, in services.CreateKeyInput) (*services.CreatedKey, error)
	SetActive(ctx context.Context, userID, keyID string, active bool) error
	Delete(ctx context.Context, userID, keyID string) error
	Reveal(ctx context.Context, userID, keyID string) (string, error)
}

// APIKeyHandlers handles /api/dashboard/api-keys
type APIKeyHandlers struct {
	keys KeyService
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys KeyService) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys}
}

// CreateAPIKeyRequest is the body of POST /api/dashboard/api-keys
type CreateAPIKeyRequest struct {
	Name          string `json:"name" binding:"required,min=1,max=100"`
	Type          string `json:"type" binding:"omitempty,oneof=primary secondary"`
	ExpiresInDays int    `json:"expires_in_days" binding:"omitempty,min=1,max=3650"`
}

// UpdateAPIKeyRequest is the body of PATCH /api/dashboard/api-keys/:id
type UpdateAPIKeyRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// requireUser returns the session user or writes 401
func requireUser(c *gin.Context) *models.User {
	user := middleware.CurrentUser(c)
	if user == nil {
		apperr.Respond(c, apperr.ErrUnauthorized)
	}
	return user
}

// @Summary      List API keys
// @Description  The caller's keys with the secret masked
// @Tags         Dashboard
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "keys: []services.KeyView"
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/dashboard/api-keys [get]
func (h *APIKeyHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		keys, err := h.keys.List(c.Request.Context(), user.ID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

// @Summary      Create API key
// @Description  The full key is returned once. It can later be revealed by its owner only.
// @Tags         Dashboard
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAPIKeyRequest  true  "Key details"
// @Success      201  {object}  services.CreatedKey
// @Failure      400  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "Key limit reached"
// @Router       /api/dashboard/api-keys [post]
func (h *APIKeyHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var req CreateAPIKeyRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if req.Type == "" {
			req.Type = models.APIKeyTypePrimary
		}

		created, err := h.keys.Create(c.Request.Context(), user.ID, services.CreateKeyInput{
			Name:          req.Name,
			Type:          req.Type,
			ExpiresInDays: req.ExpiresInDays,
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.AuditActionKey, "api_key.created")
		c.Set(middleware.AuditResourceTypeKey, "api_key")
		c.Set(middleware.AuditResourceIDKey, created.ID)
		c.JSON(http.StatusCreated, created)
	}
}

// @Summary      Enable or disable API key
// @Tags         Dashboard
// @Accept       json
// @Param        id    path  string               true  "Key ID"
// @Param        body  body  UpdateAPIKeyRequest  true  "New state"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Not found or not owned by the caller"
// @Router       /api/dashboard/api-keys/{id} [patch]
func (h *APIKeyHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var req UpdateAPIKeyRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		if err := h.keys.SetActive(c.Request.Context(), user.ID, id, *req.IsActive); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.AuditResourceTypeKey, "api_key")
		c.Set(middleware.AuditResourceIDKey, id)
		c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
	}
}

// @Summary      Delete API key
// @Tags         Dashboard
// @Param        id  path  string  true  "Key ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/dashboard/api-keys/{id} [delete]
func (h *APIKeyHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		if err := h.keys.Delete(c.Request.Context(), user.ID, id); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.AuditResourceTypeKey, "api_key")
		c.Set(middleware.AuditResourceIDKey, id)
		c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
	}
}

// @Summary      Reveal API key
// @Description  Decrypts the full key. Only the owner can reveal it; admins get 404 too.
// @Tags         Dashboard
// @Param        id  path  string  true  "Key ID"
// @Success      200  {object}  map[string]interface{}  "key: full secret"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/dashboard/api-keys/{id}/reveal [get]
func (h *APIKeyHandlers) RevealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		secret, err := h.keys.Reveal(c.Request.Context(), user.ID, id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{"id": id, "key": secret})
	}
}
