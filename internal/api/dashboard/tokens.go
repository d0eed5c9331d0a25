package dashboard

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/payment"
	"github.com/cadogy/cadogy-backend/internal/services"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// recentTransactions is how many ledger rows GET /tokens returns with the balance
const recentTransactions = 20

// Billing is implemented by *services.BillingService
type Billing interface {
	PaymentsEnabled() bool
	Quote(tokens int64) (*payment.Quote, error)
	StartCheckout(ctx context.Context, userID, email string, tokens int64) (*services.CheckoutResult, error)
	VerifyCheckout(ctx context.Context, userID, sessionID string) (*services.FulfillmentResult, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit, offset int) ([]*models.TokenTransaction, int, error)
}

// TokenHandlers handles /api/dashboard/tokens
type TokenHandlers struct {
	billing Billing
}

// NewTokenHandlers creates a new TokenHandlers instance
func NewTokenHandlers(billing Billing) *TokenHandlers {
	return &TokenHandlers{billing: billing}
}

// CheckoutRequest is the body of POST /api/dashboard/tokens/checkout
type CheckoutRequest struct {
	Tokens int64 `json:"tokens" binding:"required,min=1"`
}

// QuoteQuery is the query of GET /api/dashboard/tokens/quote
type QuoteQuery struct {
	Tokens int64 `form:"tokens" binding:"required,min=1"`
}

// @Summary      Token balance
// @Description  Current balance and the most recent ledger entries
// @Tags         Dashboard
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page (default 20, max 100)"
// @Success      200  {object}  map[string]interface{}  "balance, transactions, pagination, payments_enabled"
// @Router       /api/dashboard/tokens [get]
func (h *TokenHandlers) BalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var q validation.PageQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if q.PerPage == 0 {
			q.PerPage = recentTransactions
		}
		page, perPage, offset := q.Limits()

		ctx := c.Request.Context()
		balance, err := h.billing.Balance(ctx, user.ID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		txs, total, err := h.billing.Transactions(ctx, user.ID, perPage, offset)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"balance":          balance,
			"transactions":     txs,
			"payments_enabled": h.billing.PaymentsEnabled(),
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Price a token purchase
// @Tags         Dashboard
// @Param        tokens  query  int  true  "Number of tokens"
// @Success      200  {object}  payment.Quote
// @Failure      400  {object}  map[string]interface{}  "Outside the allowed purchase range"
// @Failure      503  {object}  map[string]interface{}  "Payments not configured"
// @Router       /api/dashboard/tokens/quote [get]
func (h *TokenHandlers) QuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q QuoteQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		quote, err := h.billing.Quote(q.Tokens)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, quote)
	}
}

// @Summary      Start token checkout
// @Description  Creates a hosted checkout session and returns its URL
// @Tags         Dashboard
// @Accept       json
// @Produce      json
// @Param        body  body  CheckoutRequest  true  "Number of tokens"
// @Success      200  {object}  services.CheckoutResult
// @Failure      400  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}  "Payments not configured"
// @Router       /api/dashboard/tokens/checkout [post]
func (h *TokenHandlers) CheckoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var req CheckoutRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		res, err := h.billing.StartCheckout(c.Request.Context(), user.ID, user.Email, req.Tokens)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Verify token checkout
// @Description  Credits a paid session once. Repeated calls report already_applied.
// @Tags         Dashboard
// @Param        session_id  query  string  true  "Checkout session ID"
// @Success      200  {object}  services.FulfillmentResult
// @Failure      404  {object}  map[string]interface{}  "Unknown session or owned by another user"
// @Router       /api/dashboard/tokens/verify [get]
func (h *TokenHandlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		sessionID := c.Query("session_id")
		res, err := h.billing.VerifyCheckout(c.Request.Context(), user.ID, sessionID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if res.Credited {
			c.Set(middleware.AuditActionKey, "tokens.purchased")
			c.Set(middleware.AuditResourceTypeKey, "checkout_session")
			c.Set(middleware.AuditResourceIDKey, sessionID)
		}
		c.JSON(http.StatusOK, res)
	}
}
