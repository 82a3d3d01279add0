package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const defaultPoolTTL = 30 * time.Second

// poolPrice is one pool's quoted price of base in quote.
type poolPrice struct {
	base  string
	quote string
	price decimal.Decimal
}

// poolBook caches a venue's full pool listing for a short TTL so that a scan
// over many pairs costs one listing request.
type poolBook struct {
	venue string
	ttl   time.Duration
	load  func(ctx context.Context) ([]poolPrice, error)
	now   func() time.Time

	mu      sync.Mutex
	fetched time.Time
	pools   []poolPrice
}

func newPoolBook(venue string, load func(ctx context.Context) ([]poolPrice, error)) *poolBook {
	return &poolBook{venue: venue, ttl: defaultPoolTTL, load: load, now: time.Now}
}

func (b *poolBook) snapshot(ctx context.Context) ([]poolPrice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pools != nil && b.now().Sub(b.fetched) < b.ttl {
		return b.pools, nil
	}
	pools, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	b.pools = pools
	b.fetched = b.now()
	return pools, nil
}

// price finds the pool for pair in either orientation. An inverted pool
// contributes 1/price.
func (b *poolBook) price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	pools, err := b.snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range pools {
		if !p.price.IsPositive() {
			continue
		}
		switch {
		case p.base == pair.Base && p.quote == pair.Quote:
			return p.price, nil
		case p.base == pair.Quote && p.quote == pair.Base:
			return decimal.NewFromInt(1).DivRound(p.price, 18), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s: no pool for %s: %w", b.venue, pair, domain.ErrNotFound)
}
