package models

import "time"

// Token transaction kinds
const (
	TokenKindPurchase   = "purchase"
	TokenKindUsage      = "usage"
	TokenKindAdjustment = "adjustment"
	TokenKindRefund     = "refund"
)

// TokenTransaction is an immutable ledger row. Amount is signed; BalanceAfter is the
// user's balance once this entry was applied.
type TokenTransaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description"`
	Reference    *string   `json:"reference,omitempty"`
	CreatedBy    *string   `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	// Joined fields
	UserEmail *string `json:"user_email,omitempty"`
}
