// Package webhooks receives inbound notifications from third parties. The payment
// processor's checkout events credit token purchases; the payload signature is verified
// before anything is processed.
package webhooks

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
)

// maxPayloadBytes matches the processor's documented event size ceiling
const maxPayloadBytes = 64 << 10

// PaymentEvents is implemented by *services.BillingService
type PaymentEvents interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// StripeWebhookHandler handles POST /api/webhooks/stripe
type StripeWebhookHandler struct {
	billing PaymentEvents
}

// NewStripeWebhookHandler creates a new webhook handler
func NewStripeWebhookHandler(billing PaymentEvents) *StripeWebhookHandler {
	return &StripeWebhookHandler{billing: billing}
}

// @Summary      Receive payment webhook
// @Description  Verifies the Stripe-Signature header and credits completed checkouts. Replays of an
// @Description  already credited session are acknowledged without a second credit.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "received: true"
// @Failure      400  {object}  map[string]interface{}  "Unreadable payload or invalid signature"
// @Failure      503  {object}  map[string]interface{}  "Payments not configured"
// @Router       /api/webhooks/stripe [post]
func (h *StripeWebhookHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil || len(payload) > maxPayloadBytes {
		apperr.Respond(c, apperr.New(apperr.KindValidation, "unreadable webhook payload"))
		return
	}

	if err := h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			slog.Warn("rejected payment webhook", "error", err, "client_ip", c.ClientIP())
		}
		// non-2xx makes the processor retry; fulfilment is idempotent
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
