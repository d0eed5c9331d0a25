// Package payment sells API tokens through a hosted checkout. A Processor creates checkout
// sessions, looks them up after the redirect, and authenticates webhooks; Pricing turns a
// token count into a charge.
package payment

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no payment processor has been configured
var ErrNotConfigured = errors.New("payments are not configured")

// ErrInvalidSignature is returned when a webhook payload fails signature verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutRequest describes a token purchase
type CheckoutRequest struct {
	UserID      string
	Email       string
	Tokens      int64
	AmountMinor int64 // total charge in the currency's minor unit (cents)
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the processor-neutral view of a checkout
type CheckoutSession struct {
	ID          string
	URL         string
	Paid        bool
	UserID      string
	Tokens      int64
	AmountMinor int64
	Currency    string
}

// Event is a verified webhook notification. Session is set for completed checkouts.
type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// EventCheckoutCompleted is the event type that credits a purchase
const EventCheckoutCompleted = "checkout.session.completed"

// Processor is a hosted-checkout payment provider
type Processor interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
