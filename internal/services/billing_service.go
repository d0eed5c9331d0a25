package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/payment"
	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

// checkoutSessionPlaceholder is expanded by the processor to the real session id
const checkoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// maxAdjustment bounds a single administrative credit or debit
const maxAdjustment = 1_000_000

var errPaymentsDisabled = apperr.New(apperr.KindUnavailable, "payments are not enabled")

// CheckoutResult is returned when a checkout session has been created
type CheckoutResult struct {
	SessionID string        `json:"session_id"`
	URL       string        `json:"url"`
	Quote     payment.Quote `json:"quote"`
}

// FulfillmentResult reports the state of a purchase after verification
type FulfillmentResult struct {
	SessionID      string `json:"session_id"`
	Paid           bool   `json:"paid"`
	Tokens         int64  `json:"tokens"`
	Credited       bool   `json:"credited"`
	AlreadyApplied bool   `json:"already_applied"`
	Balance        int64  `json:"balance"`
}

// BillingService sells tokens and owns every write to the token ledger
type BillingService struct {
	ledger    LedgerStore
	processor payment.Processor
	pricing   *payment.Pricing
	publicURL string
}

// NewBillingService creates the service. processor and pricing may be nil when payments
// are disabled; ledger operations still work.
func NewBillingService(ledger LedgerStore, processor payment.Processor, pricing *payment.Pricing, publicURL string) *BillingService {
	return &BillingService{
		ledger:    ledger,
		processor: processor,
		pricing:   pricing,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// PaymentsEnabled reports whether checkout is available
func (s *BillingService) PaymentsEnabled() bool {
	return s.processor != nil && s.pricing != nil
}

// Quote prices a purchase without creating a checkout
func (s *BillingService) Quote(tokens int64) (*payment.Quote, error) {
	if !s.PaymentsEnabled() {
		return nil, errPaymentsDisabled
	}
	if err := s.pricing.Validate(tokens); err != nil {
		return nil, apperr.Validation(map[string]string{"tokens": err.Error()})
	}
	q := s.pricing.Quote(tokens)
	return &q, nil
}

// StartCheckout creates a hosted checkout for the user. On success the processor redirects
// back to the dashboard with the session id so the purchase can be verified.
func (s *BillingService) StartCheckout(ctx context.Context, userID, email string, tokens int64) (*CheckoutResult, error) {
	quote, err := s.Quote(tokens)
	if err != nil {
		return nil, err
	}

	sess, err := s.processor.CreateCheckout(ctx, payment.CheckoutRequest{
		UserID:      userID,
		Email:       email,
		Tokens:      tokens,
		AmountMinor: s.pricing.AmountMinor(tokens),
		Currency:    s.pricing.Currency,
		SuccessURL:  s.publicURL + "/dashboard/tokens?session_id=" + checkoutSessionPlaceholder,
		CancelURL:   s.publicURL + "/dashboard/tokens?canceled=1",
	})
	if err != nil {
		telemetry.CheckoutSessionsTotal.WithLabelValues("failed").Inc()
		return nil, apperr.Internal(fmt.Errorf("create checkout: %w", err))
	}
	telemetry.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	slog.Info("checkout session created", "user_id", userID, "session_id", sess.ID, "tokens", tokens)

	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL, Quote: *quote}, nil
}

// VerifyCheckout looks up a session on behalf of the user who returned from checkout and
// credits it if paid. Sessions belonging to another user are reported as not found.
func (s *BillingService) VerifyCheckout(ctx context.Context, userID, sessionID string) (*FulfillmentResult, error) {
	if !s.PaymentsEnabled() {
		return nil, errPaymentsDisabled
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperr.Validation(map[string]string{"session_id": "is required"})
	}

	sess, err := s.processor.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("get checkout session: %w", err))
	}
	if sess == nil || sess.UserID != userID {
		return nil, apperr.ErrNotFound
	}
	return s.fulfill(ctx, sess)
}

// HandleWebhook authenticates a processor notification and credits completed checkouts.
// Other event types are acknowledged and ignored.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.PaymentsEnabled() {
		return errPaymentsDisabled
	}
	evt, err := s.processor.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return apperr.New(apperr.KindValidation, "invalid webhook signature")
		}
		return apperr.Internal(err)
	}
	if evt.Type != payment.EventCheckoutCompleted || evt.Session == nil {
		slog.Debug("ignoring payment event", "event_id", evt.ID, "type", evt.Type)
		return nil
	}
	_, err = s.fulfill(ctx, evt.Session)
	return err
}

// fulfill credits a paid session exactly once, keyed by the session id
func (s *BillingService) fulfill(ctx context.Context, sess *payment.CheckoutSession) (*FulfillmentResult, error) {
	res := &FulfillmentResult{SessionID: sess.ID, Paid: sess.Paid, Tokens: sess.Tokens}
	if !sess.Paid {
		return res, nil
	}
	if sess.UserID == "" || sess.Tokens <= 0 {
		return nil, apperr.Internal(fmt.Errorf("checkout session %s is missing purchase metadata", sess.ID))
	}

	ref := sess.ID
	entry := &models.TokenTransaction{
		UserID:      sess.UserID,
		Kind:        models.TokenKindPurchase,
		Amount:      sess.Tokens,
		Description: fmt.Sprintf("Purchased %d tokens", sess.Tokens),
		Reference:   &ref,
	}
	err := s.ledger.Apply(ctx, entry)
	switch {
	case err == nil:
		res.Credited = true
		res.Balance = entry.BalanceAfter
		telemetry.TokenLedgerEntriesTotal.WithLabelValues(entry.Kind).Inc()
		telemetry.CheckoutSessionsTotal.WithLabelValues("fulfilled").Inc()
		slog.Info("token purchase credited", "user_id", sess.UserID, "session_id", sess.ID, "tokens", sess.Tokens)
		return res, nil
	case errors.Is(err, repositories.ErrDuplicateReference):
		res.AlreadyApplied = true
		bal, err := s.ledger.GetBalance(ctx, sess.UserID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		res.Balance = bal
		return res, nil
	case errors.Is(err, repositories.ErrUserNotFound):
		return nil, apperr.Internal(fmt.Errorf("checkout session %s references unknown user %s", sess.ID, sess.UserID))
	default:
		return nil, apperr.Internal(fmt.Errorf("credit purchase: %w", err))
	}
}

// Consume debits tokens for API usage. An insufficient balance is a PaymentRequired error
// and leaves the balance untouched.
func (s *BillingService) Consume(ctx context.Context, userID string, amount int64, description string) (*models.TokenTransaction, error) {
	if amount <= 0 {
		return nil, apperr.Validation(map[string]string{"amount": "must be a positive integer"})
	}
	if description == "" {
		description = "API usage"
	}
	entry := &models.TokenTransaction{
		UserID:      userID,
		Kind:        models.TokenKindUsage,
		Amount:      -amount,
		Description: description,
	}
	if err := s.ledger.Apply(ctx, entry); err != nil {
		return nil, ledgerError(err)
	}
	telemetry.TokenLedgerEntriesTotal.WithLabelValues(entry.Kind).Inc()
	return entry, nil
}

// AdminAdjust credits or debits a user's balance on behalf of an administrator
func (s *BillingService) AdminAdjust(ctx context.Context, adminID, userID string, amount int64, description string) (*models.TokenTransaction, error) {
	if amount == 0 {
		return nil, apperr.Validation(map[string]string{"amount": "must not be zero"})
	}
	if amount < -maxAdjustment || amount > maxAdjustment {
		return nil, apperr.Validation(map[string]string{"amount": fmt.Sprintf("must be between -%d and %d", maxAdjustment, maxAdjustment)})
	}
	if strings.TrimSpace(description) == "" {
		return nil, apperr.Validation(map[string]string{"description": "is required"})
	}
	entry := &models.TokenTransaction{
		UserID:      userID,
		Kind:        models.TokenKindAdjustment,
		Amount:      amount,
		Description: description,
		CreatedBy:   &adminID,
	}
	if err := s.ledger.Apply(ctx, entry); err != nil {
		return nil, ledgerError(err)
	}
	telemetry.TokenLedgerEntriesTotal.WithLabelValues(entry.Kind).Inc()
	slog.Info("token balance adjusted", "admin_id", adminID, "user_id", userID, "amount", amount)
	return entry, nil
}

// Balance returns the user's current balance
func (s *BillingService) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return bal, nil
}

// Transactions pages through ledger rows. An empty userID lists every user's entries.
func (s *BillingService) Transactions(ctx context.Context, userID string, limit, offset int) ([]*models.TokenTransaction, int, error) {
	txs, total, err := s.ledger.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return txs, total, nil
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrInsufficientBalance):
		return apperr.New(apperr.KindPaymentRequired, "insufficient token balance")
	case errors.Is(err, repositories.ErrUserNotFound):
		return apperr.ErrNotFound
	case errors.Is(err, repositories.ErrBalanceOverflow):
		return apperr.Validation(map[string]string{"amount": "would overflow the token balance"})
	default:
		return apperr.Internal(err)
	}
}
