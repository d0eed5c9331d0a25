package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cadogy/cadogy-backend/internal/config"
)

// Pricing converts token quantities into charges
type Pricing struct {
	PricePerToken decimal.Decimal
	Currency      string
	MinTokens     int64
	MaxTokens     int64
}

// NewPricing builds Pricing from config
func NewPricing(cfg config.PaymentConfig) (*Pricing, error) {
	price, err := decimal.NewFromString(cfg.PricePerToken)
	if err != nil {
		return nil, fmt.Errorf("invalid payment.price_per_token %q: %w", cfg.PricePerToken, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("payment.price_per_token must be positive")
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &Pricing{
		PricePerToken: price,
		Currency:      currency,
		MinTokens:     cfg.MinTokens,
		MaxTokens:     cfg.MaxTokens,
	}, nil
}

// Validate checks the purchase quantity against the configured bounds
func (p *Pricing) Validate(tokens int64) error {
	if tokens < p.MinTokens {
		return fmt.Errorf("minimum purchase is %d tokens", p.MinTokens)
	}
	if p.MaxTokens > 0 && tokens > p.MaxTokens {
		return fmt.Errorf("maximum purchase is %d tokens", p.MaxTokens)
	}
	return nil
}

// Total returns the charge for tokens in major units
func (p *Pricing) Total(tokens int64) decimal.Decimal {
	return p.PricePerToken.Mul(decimal.NewFromInt(tokens))
}

// AmountMinor returns the charge in minor units (cents), rounded half away from zero
func (p *Pricing) AmountMinor(tokens int64) int64 {
	return p.Total(tokens).Shift(2).Round(0).IntPart()
}

// Quote is the JSON shape returned to the dashboard
type Quote struct {
	Tokens        int64  `json:"tokens"`
	PricePerToken string `json:"price_per_token"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
}

// Quote prices a purchase for display
func (p *Pricing) Quote(tokens int64) Quote {
	return Quote{
		Tokens:        tokens,
		PricePerToken: p.PricePerToken.String(),
		Total:         p.Total(tokens).StringFixed(2),
		Currency:      p.Currency,
	}
}
