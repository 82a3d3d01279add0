package domain

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Settings categories stored per user.
const (
	SettingsTrading = "trading"
	SettingsVenues  = "dexes"
)

// TradingSettings are the per-user knobs read by the detector, the risk
// scorer and the execution coordinator. MaxSlippage is a percentage.
type TradingSettings struct {
	MinProfitThreshold decimal.Decimal `json:"min_profit_threshold"`
	MaxSlippage        decimal.Decimal `json:"max_slippage"`
	MinTradeSize       decimal.Decimal `json:"min_trade_size"`
	MaxTradeSize       decimal.Decimal `json:"max_trade_size"`
	RiskLevel          int             `json:"risk_level"`
	AutoExecute        bool            `json:"auto_execute"`
}

// DefaultTradingSettings returns the values applied to keys missing from a
// stored settings document.
func DefaultTradingSettings() TradingSettings {
	return TradingSettings{
		MinProfitThreshold: decimal.RequireFromString("0.25"),
		MaxSlippage:        decimal.RequireFromString("0.5"),
		MinTradeSize:       decimal.NewFromInt(10),
		MaxTradeSize:       decimal.NewFromInt(1000),
		RiskLevel:          5,
	}
}

// SlippageBps converts the percentage slippage into basis points.
func (s TradingSettings) SlippageBps() int {
	return int(s.MaxSlippage.Mul(decimal.NewFromInt(100)).IntPart())
}

// VenueSettings maps a venue name to whether the user has it enabled.
type VenueSettings map[string]bool

// ActiveNames returns the enabled venue names in sorted order.
func (v VenueSettings) ActiveNames() []string {
	names := make([]string, 0, len(v))
	for name, on := range v {
		if on {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
