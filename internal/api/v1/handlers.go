// Package v1 implements the programmatic API under /api/v1. Requests reach these handlers
// only after the guard has authenticated an API key; per-user keys carry the owner's id.
package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/services"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// Accounts loads key owners; implemented by *repositories.UserRepository
type Accounts interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// Ledger is implemented by *services.BillingService
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Consume(ctx context.Context, userID string, amount int64, description string) (*models.TokenTransaction, error)
}

// Handlers serves /api/v1
type Handlers struct {
	accounts Accounts
	ledger   Ledger
	version  string
	now      func() time.Time
}

// NewHandlers creates the /api/v1 handlers
func NewHandlers(accounts Accounts, ledger Ledger, version string) *Handlers {
	return &Handlers{accounts: accounts, ledger: ledger, version: version, now: time.Now}
}

// ConsumeRequest is the body of POST /api/v1/tokens/consume
type ConsumeRequest struct {
	Amount      int64  `json:"amount" binding:"required,min=1,max=1000000"`
	Description string `json:"description" binding:"max=500"`
}

var errUserKeyRequired = apperr.New(apperr.KindForbidden, "this endpoint requires a per-user API key")

// owner returns the principal's user id, or writes 403 for service keys
func owner(c *gin.Context) (string, bool) {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		apperr.Respond(c, apperr.ErrUnauthorized)
		return "", false
	}
	if p.Tier != services.TierUser || p.UserID == "" {
		apperr.Respond(c, errUserKeyRequired)
		return "", false
	}
	return p.UserID, true
}

// @Summary      API status
// @Description  Works with any valid key, including service keys
// @Tags         API
// @Security     ApiKey
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/v1/status [get]
func (h *Handlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := ""
		if p := middleware.CurrentPrincipal(c); p != nil {
			tier = p.Tier
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  h.version,
			"key_tier": tier,
			"time":     h.now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Key owner account
// @Description  The owner of a per-user key with the current token balance
// @Tags         API
// @Security     ApiKey
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Service key"
// @Router       /api/v1/account [get]
func (h *Handlers) AccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := owner(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		user, err := h.accounts.GetUserByID(ctx, userID)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if user == nil {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		balance, err := h.ledger.Balance(ctx, userID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":    user.Public(),
			"balance": balance,
		})
	}
}

// @Summary      Consume tokens
// @Description  Debits the key owner's balance. Fails with 402 and no change when the balance is too low.
// @Tags         API
// @Security     ApiKey
// @Accept       json
// @Produce      json
// @Param        body  body  ConsumeRequest  true  "Amount and description"
// @Success      200  {object}  models.TokenTransaction
// @Failure      402  {object}  map[string]interface{}  "insufficient_tokens"
// @Failure      403  {object}  map[string]interface{}  "Service key"
// @Router       /api/v1/tokens/consume [post]
func (h *Handlers) ConsumeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := owner(c)
		if !ok {
			return
		}
		var req ConsumeRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		entry, err := h.ledger.Consume(c.Request.Context(), userID, req.Amount, req.Description)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.TokensUsedKey, req.Amount)
		c.JSON(http.StatusOK, gin.H{
			"transaction": entry,
			"balance":     entry.BalanceAfter,
		})
	}
}
