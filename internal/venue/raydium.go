package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Raydium prices pairs from the Raydium pool listing.
type Raydium struct {
	req  *requester
	book *poolBook
}

// NewRaydium creates a Raydium client. BaseURL is the API root, e.g.
// "https://api.raydium.io/v2".
func NewRaydium(opts Options) *Raydium {
	r := &Raydium{req: newRequester("raydium", opts)}
	r.book = newPoolBook("raydium", r.listPools)
	return r
}

func (r *Raydium) Name() string { return "raydium" }

type raydiumPool struct {
	ID        string          `json:"id"`
	BaseMint  string          `json:"baseMint"`
	QuoteMint string          `json:"quoteMint"`
	Price     decimal.Decimal `json:"price"`
}

func (r *Raydium) listPools(ctx context.Context) ([]poolPrice, error) {
	var pools []raydiumPool
	if err := r.req.getJSON(ctx, "pools", "/main/pools", nil, &pools); err != nil {
		return nil, err
	}
	out := make([]poolPrice, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolPrice{base: p.BaseMint, quote: p.QuoteMint, price: p.Price})
	}
	return out, nil
}

func (r *Raydium) GetPrice(ctx context.Context, pair domain.Pair) (Quote, error) {
	price, err := r.book.price(ctx, pair)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price, Raw: map[string]any{"source": "pools"}}, nil
}
