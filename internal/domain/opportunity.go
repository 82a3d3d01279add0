package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityStatus is the lifecycle state of a detected opportunity.
type OpportunityStatus string

const (
	OpportunityActive    OpportunityStatus = "active"
	OpportunityExecuting OpportunityStatus = "executing"
	OpportunityCompleted OpportunityStatus = "completed"
	OpportunityFailed    OpportunityStatus = "failed"
	OpportunityExpired   OpportunityStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s OpportunityStatus) Terminal() bool {
	switch s {
	case OpportunityCompleted, OpportunityFailed, OpportunityExpired:
		return true
	}
	return false
}

// Opportunity is a cross-venue price discrepancy for one token.
type Opportunity struct {
	ID           int64             `json:"id"`
	TokenID      int64             `json:"token_id"`
	BuyVenueID   int64             `json:"buy_dex_id"`
	SellVenueID  int64             `json:"sell_dex_id"`
	BuyPrice     decimal.Decimal   `json:"buy_price"`
	SellPrice    decimal.Decimal   `json:"sell_price"`
	SpreadPct    decimal.Decimal   `json:"price_diff_percent"`
	EstProfit    decimal.Decimal   `json:"potential_profit_usd"`
	Status       OpportunityStatus `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
