package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Well-known mainnet mints.
const (
	MintSOL  = "So11111111111111111111111111111111111111112"
	MintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Static answers from a fixed price table. Orca has no public quote API
// that fits the aggregator, so it is served from indicative prices.
type Static struct {
	name     string
	table    map[domain.Pair]decimal.Decimal
	fallback decimal.Decimal
}

// NewStatic creates a table-backed venue. Pairs missing in both
// orientations are answered with fallback; a zero fallback makes them an
// error instead.
func NewStatic(name string, table map[domain.Pair]decimal.Decimal, fallback decimal.Decimal) *Static {
	t := make(map[domain.Pair]decimal.Decimal, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &Static{name: name, table: t, fallback: fallback}
}

// NewOrca returns the indicative Orca table: SOL/USDC at 99.75 and 1.0 for
// anything else.
func NewOrca() *Static {
	return NewStatic("orca", map[domain.Pair]decimal.Decimal{
		{Base: MintSOL, Quote: MintUSDC}: decimal.RequireFromString("99.75"),
	}, decimal.NewFromInt(1))
}

func (s *Static) Name() string { return s.name }

func (s *Static) GetPrice(_ context.Context, pair domain.Pair) (Quote, error) {
	if p, ok := s.table[pair]; ok {
		return Quote{Price: p, Raw: map[string]any{"source": "static"}}, nil
	}
	if p, ok := s.table[pair.Inverse()]; ok && p.IsPositive() {
		return Quote{Price: decimal.NewFromInt(1).DivRound(p, 18), Raw: map[string]any{"source": "static"}}, nil
	}
	if s.fallback.IsPositive() {
		return Quote{Price: s.fallback, Raw: map[string]any{"source": "static"}}, nil
	}
	return Quote{}, &Error{Venue: s.name, Op: "price", Message: "no indicative price for " + pair.String()}
}
