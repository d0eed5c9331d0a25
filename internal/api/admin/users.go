// Package admin implements the administrative HTTP handlers under /api/admin. The session
// guard only lets users holding the admin role reach them; every mutation is recorded by
// the audit middleware.
package admin

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// Adjuster is implemented by *services.BillingService
type Adjuster interface {
	AdminAdjust(ctx context.Context, adminID, userID string, amount int64, description string) (*models.TokenTransaction, error)
}

// UserHandlers handles user management endpoints
type UserHandlers struct {
	userRepo *repositories.UserRepository
	billing  Adjuster
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(db *sql.DB, billing Adjuster) *UserHandlers {
	return &UserHandlers{
		userRepo: repositories.NewUserRepository(db),
		billing:  billing,
	}
}

// UserListQuery filters GET /api/admin/users
type UserListQuery struct {
	validation.PageQuery
	Search string `form:"search" binding:"omitempty,max=254"`
}

// SetRoleRequest is the body of PATCH /api/admin/users/:id/role
type SetRoleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

// SetVerifiedRequest is the body of PATCH /api/admin/users/:id/verify
type SetVerifiedRequest struct {
	Verified *bool `json:"verified" binding:"required"`
}

// AdjustTokensRequest is the body of POST /api/admin/users/:id/tokens
type AdjustTokensRequest struct {
	Amount      int64  `json:"amount" binding:"required,ne=0,min=-1000000,max=1000000"`
	Description string `json:"description" binding:"required,min=1,max=500"`
}

// @Summary      List users
// @Description  Paginated user list, newest first, optionally searched by email or name
// @Tags         Admin
// @Produce      json
// @Param        search    query  string  false  "Case-insensitive email or name fragment"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "users: []models.User, pagination: map"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/admin/users [get]
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q UserListQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		page, perPage, offset := q.Limits()

		users, total, err := h.userRepo.ListUsers(c.Request.Context(), q.Search, perPage, offset)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get user
// @Tags         Admin
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  models.User
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/users/{id} [get]
func (h *UserHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		user, err := h.userRepo.GetUserByID(c.Request.Context(), id)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if user == nil {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "user not found"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// notSelf rejects operations an admin may not apply to their own account
func notSelf(c *gin.Context, targetID, message string) bool {
	if c.GetString(middleware.UserIDKey) == targetID {
		apperr.Respond(c, apperr.New(apperr.KindForbidden, message))
		return false
	}
	return true
}

// @Summary      Change user role
// @Description  Admins cannot change their own role
// @Tags         Admin
// @Accept       json
// @Param        id    path  string          true  "User ID"
// @Param        body  body  SetRoleRequest  true  "New role"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Own account"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/users/{id}/role [patch]
func (h *UserHandlers) SetRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SetRoleRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		if !notSelf(c, id, "you cannot change your own role") {
			return
		}
		ok, err := h.userRepo.SetRole(c.Request.Context(), id, req.Role)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if !ok {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "user not found"))
			return
		}
		c.Set(middleware.AuditActionKey, "user.role_changed")
		c.Set(middleware.AuditResourceTypeKey, "user")
		c.Set(middleware.AuditResourceIDKey, id)
		c.Set(middleware.AuditMetadataKey, map[string]interface{}{"role": req.Role})
		c.JSON(http.StatusOK, gin.H{"id": id, "role": req.Role})
	}
}

// @Summary      Set email verification
// @Tags         Admin
// @Accept       json
// @Param        id    path  string              true  "User ID"
// @Param        body  body  SetVerifiedRequest  true  "Verified flag"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/users/{id}/verify [patch]
func (h *UserHandlers) SetVerifiedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SetVerifiedRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		ok, err := h.userRepo.SetVerified(c.Request.Context(), id, *req.Verified)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if !ok {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "user not found"))
			return
		}
		c.Set(middleware.AuditActionKey, "user.verification_changed")
		c.Set(middleware.AuditResourceTypeKey, "user")
		c.Set(middleware.AuditResourceIDKey, id)
		c.Set(middleware.AuditMetadataKey, map[string]interface{}{"verified": *req.Verified})
		c.JSON(http.StatusOK, gin.H{"id": id, "verified": *req.Verified})
	}
}

// @Summary      Delete user
// @Description  Removes the account with its keys, tickets and ledger. Admins cannot delete themselves.
// @Tags         Admin
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Own account"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/users/{id} [delete]
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		if !notSelf(c, id, "you cannot delete your own account") {
			return
		}
		ok, err := h.userRepo.DeleteUser(c.Request.Context(), id)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if !ok {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "user not found"))
			return
		}
		c.Set(middleware.AuditActionKey, "user.deleted")
		c.Set(middleware.AuditResourceTypeKey, "user")
		c.Set(middleware.AuditResourceIDKey, id)
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	}
}

// @Summary      Adjust token balance
// @Description  Credits (positive) or debits (negative) a user's balance through the ledger
// @Tags         Admin
// @Accept       json
// @Param        id    path  string               true  "User ID"
// @Param        body  body  AdjustTokensRequest  true  "Signed amount and reason"
// @Success      201  {object}  models.TokenTransaction
// @Failure      402  {object}  map[string]interface{}  "Debit would make the balance negative"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/users/{id}/tokens [post]
func (h *UserHandlers) AdjustTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AdjustTokensRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		entry, err := h.billing.AdminAdjust(c.Request.Context(), c.GetString(middleware.UserIDKey), id, req.Amount, req.Description)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.AuditActionKey, "tokens.adjusted")
		c.Set(middleware.AuditResourceTypeKey, "user")
		c.Set(middleware.AuditResourceIDKey, id)
		c.Set(middleware.AuditMetadataKey, map[string]interface{}{"amount": req.Amount})
		c.JSON(http.StatusCreated, entry)
	}
}
