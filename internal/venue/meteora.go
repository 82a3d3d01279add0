package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Meteora prices pairs from the Meteora DLMM pair listing.
type Meteora struct {
	req  *requester
	book *poolBook
}

// NewMeteora creates a Meteora client. BaseURL is the DLMM API root, e.g.
// "https://dlmm-api.meteora.ag".
func NewMeteora(opts Options) *Meteora {
	m := &Meteora{req: newRequester("meteora", opts)}
	m.book = newPoolBook("meteora", m.listPairs)
	return m
}

func (m *Meteora) Name() string { return "meteora" }

type meteoraPair struct {
	Address      string          `json:"address"`
	MintX        string          `json:"mint_x"`
	MintY        string          `json:"mint_y"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

func (m *Meteora) listPairs(ctx context.Context) ([]poolPrice, error) {
	var pairs []meteoraPair
	if err := m.req.getJSON(ctx, "pairs", "/pair/all", nil, &pairs); err != nil {
		return nil, err
	}
	out := make([]poolPrice, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, poolPrice{base: p.MintX, quote: p.MintY, price: p.CurrentPrice})
	}
	return out, nil
}

func (m *Meteora) GetPrice(ctx context.Context, pair domain.Pair) (Quote, error) {
	price, err := m.book.price(ctx, pair)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price, Raw: map[string]any{"source": "dlmm"}}, nil
}
