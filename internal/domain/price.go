package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is the latest successful price fetch for a pair. It
// lives only in memory and in the price cache.
type PriceObservation struct {
	Pair       Pair             `json:"pair"`
	Price      decimal.Decimal  `json:"price"`
	ObservedAt time.Time        `json:"observed_at"`
	ChangePct  *decimal.Decimal `json:"change_pct,omitempty"`
}

// Usable reports whether the observation carries a positive price.
func (o PriceObservation) Usable() bool {
	return o.Price.IsPositive()
}
