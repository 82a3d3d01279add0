package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/simulation"
	"github.com/alanyoungcy/dexarb/internal/store/memstore"
	"github.com/alanyoungcy/dexarb/internal/venue"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type swapVenue struct {
	name string
	out  map[string]int64
	err  error

	mu   sync.Mutex
	reqs []venue.SwapRequest
}

func (v *swapVenue) Name() string { return v.name }

func (v *swapVenue) GetPrice(context.Context, domain.Pair) (venue.Quote, error) {
	return venue.Quote{}, errors.New("not used")
}

func (v *swapVenue) BuildSwap(_ context.Context, req venue.SwapRequest) (venue.Swap, error) {
	v.mu.Lock()
	v.reqs = append(v.reqs, req)
	v.mu.Unlock()
	if v.err != nil {
		return venue.Swap{}, v.err
	}
	return venue.Swap{Transaction: "tx-" + req.InputMint, OutputAmount: v.out[req.InputMint]}, nil
}

func (v *swapVenue) requests() []venue.SwapRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]venue.SwapRequest(nil), v.reqs...)
}

type stubSim struct {
	fail map[string]string
}

func (s stubSim) Simulate(_ context.Context, payload string) (simulation.Result, error) {
	if reason, ok := s.fail[payload]; ok {
		return simulation.Result{OK: false, Reason: "Transaction would fail: " + reason}, nil
	}
	return simulation.Result{OK: true}, nil
}

type badKeys struct{}

func (badKeys) Open(string) (string, error) { return "", errors.New("cipher: message authentication failed") }

type fixture struct {
	db   *memstore.DB
	buy  *swapVenue
	sell venue.Client
	sim  stubSim
	opp  domain.Opportunity
}

func newFixture(t *testing.T, sell venue.Client) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memstore.New()
	db.AddToken(domain.Token{ID: 1, Symbol: "USDC", Mint: "usdc", Decimals: 6})
	db.AddToken(domain.Token{ID: 2, Symbol: "SOL", Mint: "sol", Decimals: 9})
	db.AddVenue(domain.Venue{ID: 1, Name: "jupiter"})
	db.AddVenue(domain.Venue{ID: 2, Name: sell.Name()})
	db.AddWallet(domain.Wallet{ID: 1, UserID: 1, Address: "payer", Active: true})
	require.NoError(t, db.Settings().Put(ctx, 1, domain.SettingsTrading, domain.DefaultTradingSettings()))

	opp, err := db.Opportunities().Create(ctx, domain.Opportunity{
		TokenID: 2, BuyVenueID: 1, SellVenueID: 2,
		BuyPrice: dec("100"), SellPrice: dec("101"), SpreadPct: dec("1"), EstProfit: dec("1"),
	})
	require.NoError(t, err)

	return &fixture{
		db:   db,
		buy:  &swapVenue{name: "jupiter", out: map[string]int64{"usdc": 1_000_000_000}},
		sell: sell,
		sim:  stubSim{fail: map[string]string{}},
		opp:  opp,
	}
}

func (f *fixture) coordinator(keys KeyOpener) *Coordinator {
	return NewCoordinator(Config{
		Catalog:       f.db.Catalog(),
		Settings:      f.db.Settings(),
		Opportunities: f.db.Opportunities(),
		Executions:    f.db.Executions(),
		Venues:        venue.NewRegistry(f.buy, f.sell),
		Simulator:     f.sim,
		Keys:          keys,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (f *fixture) status(t *testing.T) domain.Opportunity {
	t.Helper()
	opp, err := f.db.Opportunities().GetByID(context.Background(), f.opp.ID)
	require.NoError(t, err)
	return opp
}

func TestExecuteBothLegs(t *testing.T) {
	sell := &swapVenue{name: "raydium", out: map[string]int64{"sol": 101_000_000}}
	f := newFixture(t, sell)

	out := f.coordinator(nil).Execute(context.Background(), f.opp.ID, 1)
	require.True(t, out.Success, out.Error)
	assert.True(t, out.Profit.Equal(dec("1")))

	buyReqs := f.buy.requests()
	require.Len(t, buyReqs, 1)
	assert.Equal(t, venue.SwapRequest{InputMint: "usdc", OutputMint: "sol", Amount: 100_000_000, Payer: "payer", SlippageBps: 50}, buyReqs[0])
	sellReqs := sell.requests()
	require.Len(t, sellReqs, 1)
	assert.Equal(t, int64(1_000_000_000), sellReqs[0].Amount)

	trade, err := f.db.Trades().GetByID(context.Background(), out.TradeID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCompleted, trade.Status)
	assert.True(t, trade.Amount.Equal(dec("1")))
	assert.True(t, trade.RealizedProfit.Equal(dec("1")))
	assert.Contains(t, trade.BuyRef, "simulated_buy_tx_")
	assert.Contains(t, trade.SellRef, "simulated_sell_tx_")

	assert.Equal(t, domain.OpportunityCompleted, f.status(t).Status)

	m, err := f.db.Performance().Get(context.Background(), 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TradesCount)
	assert.Equal(t, 1, m.OpportunitiesCount)
	assert.True(t, m.Profit.Equal(dec("1")))
}

func TestSameDayExecutionsAggregatePerformance(t *testing.T) {
	sell := &swapVenue{name: "raydium", out: map[string]int64{"sol": 101_000_000}}
	f := newFixture(t, sell)
	ctx := context.Background()
	second, err := f.db.Opportunities().Create(ctx, domain.Opportunity{
		TokenID: 2, BuyVenueID: 1, SellVenueID: 2,
		BuyPrice: dec("100"), SellPrice: dec("101"), SpreadPct: dec("1"), EstProfit: dec("1"),
	})
	require.NoError(t, err)

	day := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	c := f.coordinator(nil)
	c.now = func() time.Time { return day }

	for _, id := range []int64{f.opp.ID, second.ID} {
		out := c.Execute(ctx, id, 1)
		require.True(t, out.Success, out.Error)
	}

	m, err := f.db.Performance().Get(ctx, 1, day)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TradesCount)
	assert.Equal(t, 1, m.OpportunitiesCount)
	assert.True(t, m.Profit.Equal(dec("2")), m.Profit.String())

	rows, err := f.db.Performance().ListRange(ctx, 1, day, day)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestExecuteSimulationOnlySellLeg(t *testing.T) {
	f := newFixture(t, venue.NewOrca())

	out := f.coordinator(nil).Execute(context.Background(), f.opp.ID, 1)
	require.True(t, out.Success, out.Error)
	assert.True(t, out.Profit.IsZero())

	trade, err := f.db.Trades().GetByID(context.Background(), out.TradeID)
	require.NoError(t, err)
	assert.True(t, trade.Amount.Equal(dec("1")))
}

func TestExecuteRejectsInactiveOpportunity(t *testing.T) {
	f := newFixture(t, venue.NewOrca())
	c := f.coordinator(nil)

	first := c.Execute(context.Background(), f.opp.ID, 1)
	require.True(t, first.Success)

	second := c.Execute(context.Background(), f.opp.ID, 1)
	assert.False(t, second.Success)
	assert.Equal(t, domain.KindInvalidState, second.ErrorKind)
	assert.Equal(t, "Opportunity is not active", second.Error)
	assert.Equal(t, domain.OpportunityCompleted, f.status(t).Status)
	assert.Empty(t, f.status(t).ErrorMessage)

	trades, _ := f.db.Trades().List(context.Background(), domain.ListOpts{})
	assert.Len(t, trades, 1)
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	f := newFixture(t, &swapVenue{name: "raydium", out: map[string]int64{"sol": 101_000_000}})
	c := f.coordinator(nil)

	outcomes := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = c.Execute(context.Background(), f.opp.ID, 1)
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, o := range outcomes {
		switch {
		case o.Success:
			ok++
		case o.ErrorKind == domain.KindInvalidState:
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	trades, _ := f.db.Trades().List(context.Background(), domain.ListOpts{})
	assert.Len(t, trades, 1)
	assert.Len(t, f.buy.requests(), 1)
}

func TestExecuteBuySimulationRevert(t *testing.T) {
	f := newFixture(t, &swapVenue{name: "raydium"})
	f.sim.fail["tx-usdc"] = `{"InstructionError":[2,{"Custom":6001}]}`

	out := f.coordinator(nil).Execute(context.Background(), f.opp.ID, 1)
	assert.False(t, out.Success)
	assert.Equal(t, domain.KindUpstream, out.ErrorKind)

	opp := f.status(t)
	assert.Equal(t, domain.OpportunityFailed, opp.Status)
	assert.Equal(t, `Buy transaction simulation failed: Transaction would fail: {"InstructionError":[2,{"Custom":6001}]}`, opp.ErrorMessage)

	trades, _ := f.db.Trades().List(context.Background(), domain.ListOpts{})
	assert.Empty(t, trades)
	_, err := f.db.Performance().Get(context.Background(), 1, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteQuoteFailureKeepsVenueText(t *testing.T) {
	f := newFixture(t, venue.NewOrca())
	f.buy.err = &venue.Error{Venue: "jupiter", Op: "quote", Status: 400, Message: "No routes found"}

	out := f.coordinator(nil).Execute(context.Background(), f.opp.ID, 1)
	assert.False(t, out.Success)
	assert.Equal(t, domain.KindUpstream, out.ErrorKind)
	assert.Equal(t, "Failed to create buy transaction: jupiter: quote: status 400: No routes found", f.status(t).ErrorMessage)
}

func TestExecuteMissingWallet(t *testing.T) {
	f := newFixture(t, venue.NewOrca())

	out := f.coordinator(nil).Execute(context.Background(), f.opp.ID, 42)
	assert.False(t, out.Success)
	assert.Equal(t, domain.KindNotFound, out.ErrorKind)
	assert.Equal(t, domain.OpportunityFailed, f.status(t).Status)
	assert.Equal(t, "Wallet not found", f.status(t).ErrorMessage)
}

func TestExecuteKeyDecryptFailure(t *testing.T) {
	f := newFixture(t, venue.NewOrca())
	f.db.AddWallet(domain.Wallet{ID: 2, UserID: 1, Address: "payer", EncryptedPrivateKey: "sealed", Active: true})

	out := f.coordinator(badKeys{}).Execute(context.Background(), f.opp.ID, 2)
	assert.False(t, out.Success)
	assert.Equal(t, "Error decrypting private key", out.Error)
	assert.Equal(t, domain.OpportunityFailed, f.status(t).Status)
	assert.Empty(t, f.buy.requests())
}

func TestExecuteSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, venue.NewOrca())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.coordinator(nil).Execute(ctx, f.opp.ID, 1)
	assert.True(t, out.Success, out.Error)
	assert.Equal(t, domain.OpportunityCompleted, f.status(t).Status)
}

func TestExecuteUnknownOpportunity(t *testing.T) {
	f := newFixture(t, venue.NewOrca())
	out := f.coordinator(nil).Execute(context.Background(), 999, 1)
	assert.Equal(t, domain.KindNotFound, out.ErrorKind)
}
