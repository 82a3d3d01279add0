package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/risk"
	"github.com/alanyoungcy/dexarb/internal/store/memstore"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixedExecutor struct{ out executor.Outcome }

func (f fixedExecutor) Execute(context.Context, int64, int64) executor.Outcome { return f.out }

type noScan struct{}

func (noScan) Scan(context.Context, int64) ([]domain.Opportunity, error) { return nil, nil }

type mapPrices map[domain.Pair]domain.PriceObservation

func (m mapPrices) Latest(p domain.Pair) (domain.PriceObservation, bool) {
	o, ok := m[p]
	return o, ok
}

type mapCache map[domain.Pair]domain.PriceObservation

func (m mapCache) SetPrice(_ context.Context, o domain.PriceObservation) error {
	m[o.Pair] = o
	return nil
}

func (m mapCache) GetPrice(_ context.Context, p domain.Pair) (domain.PriceObservation, error) {
	o, ok := m[p]
	if !ok {
		return o, domain.ErrNotFound
	}
	return o, nil
}

func (m mapCache) GetPrices(ctx context.Context, pairs []domain.Pair) (map[domain.Pair]domain.PriceObservation, error) {
	out := map[domain.Pair]domain.PriceObservation{}
	for _, p := range pairs {
		if o, err := m.GetPrice(ctx, p); err == nil {
			out[p] = o
		}
	}
	return out, nil
}

func newArb(db *memstore.DB, out executor.Outcome) *ArbService {
	return NewArbService(noScan{}, fixedExecutor{out}, db.Opportunities(), db.Trades(), db.Performance(), db.AuditLog(), quietLogger())
}

func TestListActiveOrderedBySpread(t *testing.T) {
	db := memstore.New()
	ctx := context.Background()
	for _, s := range []string{"0.3", "1.5", "0.9"} {
		_, err := db.Opportunities().Create(ctx, domain.Opportunity{
			TokenID: 1, BuyVenueID: 1, SellVenueID: 2, SpreadPct: decimal.RequireFromString(s),
		})
		require.NoError(t, err)
	}

	got, err := newArb(db, executor.Outcome{}).ListOpportunities(ctx, domain.OpportunityActive, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.5", got[0].SpreadPct.String())
	assert.Equal(t, "0.9", got[1].SpreadPct.String())
}

func TestGetOpportunityNotFound(t *testing.T) {
	_, err := newArb(memstore.New(), executor.Outcome{}).GetOpportunity(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteIsAudited(t *testing.T) {
	db := memstore.New()
	out := newArb(db, executor.Outcome{Error: "Wallet not found", ErrorKind: domain.KindNotFound}).
		Execute(context.Background(), 1, 5, 9)
	assert.False(t, out.Success)

	audit := db.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "execution.manual", audit[0].Event)
	assert.Equal(t, "Wallet not found", audit[0].Detail["error"])
}

func TestPriceServicePrefersLocal(t *testing.T) {
	pair := domain.Pair{Base: "SOL", Quote: "USDC"}
	local := mapPrices{pair: {Pair: pair, Price: decimal.NewFromInt(100), ObservedAt: time.Now()}}
	cache := mapCache{pair: {Pair: pair, Price: decimal.NewFromInt(90)}}
	s := NewPriceService(local, cache, quietLogger())

	obs, err := s.Latest(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, obs.Price.Equal(decimal.NewFromInt(100)))
}

func TestPriceServiceFallsBackToCache(t *testing.T) {
	pair := domain.Pair{Base: "SOL", Quote: "USDC"}
	cache := mapCache{pair: {Pair: pair, Price: decimal.NewFromInt(90)}}
	s := NewPriceService(mapPrices{}, cache, quietLogger())

	obs, err := s.Latest(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, obs.Price.Equal(decimal.NewFromInt(90)))

	_, err = s.Latest(context.Background(), domain.Pair{Base: "BONK", Quote: "USDC"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Latest(context.Background(), domain.Pair{Base: "SOL"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

type verdict struct{ ok bool }

func (v verdict) AssessOpportunity(context.Context, int64, int64) risk.Assessment {
	return risk.Assessment{Score: 9, Recommendation: risk.RecommendVeryHigh, CanExecute: v.ok}
}

func TestRiskGateRefusesExecution(t *testing.T) {
	db := memstore.New()
	svc := newArb(db, executor.Outcome{Success: true}).WithRiskGate(verdict{ok: false})

	out := svc.Execute(context.Background(), 1, 5, 9)
	assert.False(t, out.Success)
	assert.Equal(t, domain.KindInvalidState, out.ErrorKind)
	assert.Contains(t, out.Error, "Risk check failed (score 9)")

	out = newArb(db, executor.Outcome{Success: true}).WithRiskGate(verdict{ok: true}).Execute(context.Background(), 1, 5, 9)
	assert.True(t, out.Success)
}
