package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the final state of an execution attempt.
type TradeStatus string

const (
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// Trade records one execution attempt. OpportunityID is nil for trades
// placed without a stored opportunity.
type Trade struct {
	ID             int64           `json:"id"`
	OpportunityID  *int64          `json:"opportunity_id,omitempty"`
	WalletID       int64           `json:"wallet_id"`
	TokenID        int64           `json:"token_id"`
	BuyVenueID     int64           `json:"buy_dex_id"`
	SellVenueID    int64           `json:"sell_dex_id"`
	BuyPrice       decimal.Decimal `json:"buy_price"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	Amount         decimal.Decimal `json:"amount"`
	RealizedProfit decimal.Decimal `json:"profit_usd"`
	Status         TradeStatus     `json:"status"`
	BuyRef         string          `json:"tx_hash_buy"`
	SellRef        string          `json:"tx_hash_sell"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PerformanceMetric is the per-user, per-day execution aggregate.
type PerformanceMetric struct {
	UserID             int64           `json:"user_id"`
	Date               time.Time       `json:"date"`
	Profit             decimal.Decimal `json:"profit_usd"`
	TradesCount        int             `json:"trades_count"`
	OpportunitiesCount int             `json:"opportunities_count"`
	AvgResponseTimeMs  float64         `json:"avg_response_time_ms"`
}

// ExecutionRecord is everything written when an execution attempt completes.
// It is applied atomically by ExecutionStore.Complete.
type ExecutionRecord struct {
	Trade          Trade
	UserID         int64
	Day            time.Time
	ResponseTimeMs float64
}
