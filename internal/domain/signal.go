package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bus channels.
const (
	ChannelPrices        = "prices"
	ChannelOpportunities = "opportunities"
	ChannelTrades        = "trades"
)

// PriceEvent is published for every successful price observation.
type PriceEvent struct {
	Type      string           `json:"type"`
	Pair      Pair             `json:"token_pair"`
	Price     decimal.Decimal  `json:"price"`
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewPriceEvent builds the wire event for an observation.
func NewPriceEvent(obs PriceObservation) PriceEvent {
	return PriceEvent{
		Type:      "price_update",
		Pair:      obs.Pair,
		Price:     obs.Price,
		ChangePct: obs.ChangePct,
		Timestamp: obs.ObservedAt,
	}
}

// OpportunityEvent is published when an opportunity is created or changes
// status.
type OpportunityEvent struct {
	Type        string      `json:"type"`
	Opportunity Opportunity `json:"opportunity"`
}

// TradeEvent is published after an execution attempt finishes.
type TradeEvent struct {
	Type          string          `json:"type"`
	OpportunityID int64           `json:"opportunity_id"`
	Success       bool            `json:"success"`
	TradeID       int64           `json:"trade_id,omitempty"`
	Profit        decimal.Decimal `json:"profit_usd"`
	Error         string          `json:"error,omitempty"`
}

// ControllerStatus is a snapshot of the scan controller.
type ControllerStatus struct {
	Running    bool      `json:"is_running"`
	UserID     int64     `json:"user_id"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	LastScanAt time.Time `json:"last_scan_at,omitzero"`
	Scans      int64     `json:"scans"`
	Found      int64     `json:"opportunities_found"`
	Executed   int64     `json:"executions"`
	LastError  string    `json:"last_error,omitempty"`
}
