// Package venue provides the price and swap clients for the supported DEX
// venues and the closed registry that maps venue names to them.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Quote is a venue's current price for one unit of base in quote, plus the
// venue-specific fields the price was derived from.
type Quote struct {
	Price decimal.Decimal
	Raw   map[string]any
}

// SwapRequest asks a swap-capable venue for a ready-to-sign transaction.
// Amount is in the input token's base units.
type SwapRequest struct {
	InputMint   string
	OutputMint  string
	Amount      int64
	Payer       string
	SlippageBps int
}

// Swap is a serialized transaction and the output amount (base units) the
// venue quoted for it.
type Swap struct {
	Transaction  string
	OutputAmount int64
}

// Client is the capability every venue offers.
type Client interface {
	Name() string
	GetPrice(ctx context.Context, pair domain.Pair) (Quote, error)
}

// SwapBuilder is implemented by venues that can build swap transactions.
type SwapBuilder interface {
	BuildSwap(ctx context.Context, req SwapRequest) (Swap, error)
}

// Decimals resolves a mint's decimal places. ok is false for unknown mints.
type Decimals func(mint string) (decimals int32, ok bool)

// Error is an upstream failure reported by a venue. Message carries the
// venue's own error text.
type Error struct {
	Venue   string
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: %s: status %d: %s", e.Venue, e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Venue, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Venue, e.Op, e.Message)
	}
}

// Unwrap exposes both the upstream classification and the cause.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrUpstream, e.Err}
	}
	return []error{domain.ErrUpstream}
}

// IsUpstream reports whether err came from a venue.
func IsUpstream(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}
