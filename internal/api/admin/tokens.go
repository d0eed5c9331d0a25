package admin

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// KeyToggler is implemented by *services.APIKeyService
type KeyToggler interface {
	AdminSetActive(ctx context.Context, keyID string, active bool) error
}

// LedgerHandlers handles the token ledger and cross-user API key administration
type LedgerHandlers struct {
	tokenRepo *repositories.TokenRepository
	keys      KeyToggler
}

// NewLedgerHandlers creates a new LedgerHandlers instance
func NewLedgerHandlers(db *sql.DB, keys KeyToggler) *LedgerHandlers {
	return &LedgerHandlers{
		tokenRepo: repositories.NewTokenRepository(db),
		keys:      keys,
	}
}

// TransactionListQuery filters GET /api/admin/token-transactions
type TransactionListQuery struct {
	validation.PageQuery
	UserID string `form:"user_id" binding:"omitempty,uuid"`
}

// SetKeyActiveRequest is the body of PATCH /api/admin/api-keys/:id
type SetKeyActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// @Summary      List token transactions
// @Tags         Admin
// @Produce      json
// @Param        user_id   query  string  false  "Only this user's entries"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "transactions, pagination"
// @Router       /api/admin/token-transactions [get]
func (h *LedgerHandlers) ListTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q TransactionListQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		page, perPage, offset := q.Limits()

		txs, total, err := h.tokenRepo.ListTransactions(c.Request.Context(), q.UserID, perPage, offset)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": txs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Enable or disable any API key
// @Tags         Admin
// @Accept       json
// @Param        id    path  string               true  "Key ID"
// @Param        body  body  SetKeyActiveRequest  true  "New state"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/api-keys/{id} [patch]
func (h *LedgerHandlers) SetKeyActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SetKeyActiveRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		if err := h.keys.AdminSetActive(c.Request.Context(), id, *req.IsActive); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.AuditActionKey, "api_key.admin_toggled")
		c.Set(middleware.AuditResourceTypeKey, "api_key")
		c.Set(middleware.AuditResourceIDKey, id)
		c.Set(middleware.AuditMetadataKey, map[string]interface{}{"is_active": *req.IsActive})
		c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
	}
}
