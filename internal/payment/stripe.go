package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeProcessor implements Processor with Stripe Checkout
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
	productName   string
}

// NewStripeProcessor creates a processor for the given secret key
func NewStripeProcessor(secretKey, webhookSecret string) *StripeProcessor {
	return &StripeProcessor{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		productName:   "Cadogy API tokens",
	}
}

// CreateCheckout implements Processor. The user ID and token count travel in session
// metadata so crediting never trusts client input.
func (s *StripeProcessor) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(s.productName),
					Description: stripe.String(fmt.Sprintf("%d tokens", req.Tokens)),
				},
				UnitAmount: stripe.Int64(req.AmountMinor),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("tokens", strconv.FormatInt(req.Tokens, 10))

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return sessionFromStripe(sess)
}

// GetSession implements Processor
func (s *StripeProcessor) GetSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return sessionFromStripe(sess)
}

// ParseWebhook implements Processor
func (s *StripeProcessor) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	if out.Session, err = sessionFromStripe(&sess); err != nil {
		return nil, err
	}
	return out, nil
}

func sessionFromStripe(sess *stripe.CheckoutSession) (*CheckoutSession, error) {
	out := &CheckoutSession{
		ID:          sess.ID,
		URL:         sess.URL,
		Paid:        sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		UserID:      sess.Metadata["user_id"],
		AmountMinor: sess.AmountTotal,
		Currency:    string(sess.Currency),
	}
	if out.UserID == "" {
		out.UserID = sess.ClientReferenceID
	}
	if raw := sess.Metadata["tokens"]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stripe: session %s has invalid tokens metadata %q", sess.ID, raw)
		}
		out.Tokens = n
	}
	return out, nil
}
