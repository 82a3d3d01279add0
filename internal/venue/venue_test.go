package venue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

var solUSDC = domain.Pair{Base: MintSOL, Quote: MintUSDC}

func decimalsOf(m map[string]int32) Decimals {
	return func(mint string) (int32, bool) {
		d, ok := m[mint]
		return d, ok
	}
}

func TestJupiterGetPriceScalesByDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"inAmount":       "1000000000",
			"outAmount":      "101500000",
			"priceImpactPct": "0.001",
		})
	}))
	defer srv.Close()

	j := NewJupiter(Options{BaseURL: srv.URL, Decimals: decimalsOf(map[string]int32{MintSOL: 9, MintUSDC: 6})})
	q, err := j.GetPrice(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("101.5")), "got %s", q.Price)
	assert.Equal(t, "101500000", q.Raw["outAmount"])
}

func TestJupiterGetPriceRawRatioWithoutDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000000", r.URL.Query().Get("amount"))
		_, _ = w.Write([]byte(`{"inAmount":"1000000","outAmount":"2000000"}`))
	}))
	defer srv.Close()

	q, err := NewJupiter(Options{BaseURL: srv.URL}).GetPrice(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(2)))
}

func TestJupiterUpstreamErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"No routes found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewJupiter(Options{BaseURL: srv.URL}).GetPrice(context.Background(), solUSDC)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "No routes found")
	assert.True(t, IsUpstream(err))
}

func TestJupiterBuildSwapForwardsQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			assert.Equal(t, "100", r.URL.Query().Get("slippageBps"))
			_, _ = w.Write([]byte(`{"inAmount":"100000000","outAmount":"990000000","routePlan":[]}`))
		case "/swap":
			var body map[string]any
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
				return
			}
			assert.Equal(t, "payer-address", body["userPublicKey"])
			assert.Equal(t, true, body["wrapAndUnwrapSol"])
			quote, _ := body["quoteResponse"].(map[string]any)
			assert.Equal(t, "990000000", quote["outAmount"])
			_, _ = w.Write([]byte(`{"swapTransaction":"AQID"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	swap, err := NewJupiter(Options{BaseURL: srv.URL}).BuildSwap(context.Background(), SwapRequest{
		InputMint:   MintUSDC,
		OutputMint:  MintSOL,
		Amount:      100_000_000,
		Payer:       "payer-address",
		SlippageBps: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "AQID", swap.Transaction)
	assert.Equal(t, int64(990_000_000), swap.OutputAmount)
}

func TestRaydiumInvertsPoolAndCachesListing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/main/pools", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"p1","baseMint":"` + MintUSDC + `","quoteMint":"` + MintSOL + `","price":0.01}]`))
	}))
	defer srv.Close()

	r := NewRaydium(Options{BaseURL: srv.URL})
	q, err := r.GetPrice(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(100)), "got %s", q.Price)

	q, err = r.GetPrice(context.Background(), solUSDC.Inverse())
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, int32(1), calls.Load())

	_, err = r.GetPrice(context.Background(), domain.Pair{Base: "x", Quote: "y"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMeteoraDirectPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pair/all", r.URL.Path)
		_, _ = w.Write([]byte(`[{"address":"a","mint_x":"` + MintSOL + `","mint_y":"` + MintUSDC + `","current_price":98.25}]`))
	}))
	defer srv.Close()

	q, err := NewMeteora(Options{BaseURL: srv.URL}).GetPrice(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("98.25")))
}

func TestOrcaStaticTable(t *testing.T) {
	o := NewOrca()
	ctx := context.Background()

	q, err := o.GetPrice(ctx, solUSDC)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("99.75")))

	q, err = o.GetPrice(ctx, solUSDC.Inverse())
	require.NoError(t, err)
	assert.True(t, q.Price.Mul(decimal.RequireFromString("99.75")).Round(9).Equal(decimal.NewFromInt(1)))

	q, err = o.GetPrice(ctx, domain.Pair{Base: "a", Quote: "b"})
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(1)))

	_, err = NewStatic("empty", nil, decimal.Zero).GetPrice(ctx, solUSDC)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

type denyLimiter struct{ calls atomic.Int32 }

func (d *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.calls.Add(1)
	return false, nil
}

func TestRateLimitedRequestNeverLeaves(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	lim := &denyLimiter{}
	j := NewJupiter(Options{BaseURL: srv.URL, Limiter: lim, RateLimit: 1, RateWindow: time.Second})
	_, err := j.GetPrice(context.Background(), solUSDC)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Equal(t, int32(1), lim.calls.Load())
	assert.Zero(t, hits.Load())
}

func TestRegistryIsClosed(t *testing.T) {
	reg, err := Build([]config.VenueConfig{
		{Name: "jupiter", BaseURL: "http://unused", Enabled: true},
		{Name: "Orca", Enabled: true},
		{Name: "meteora", Enabled: false},
	}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"jupiter", "orca"}, reg.Names())

	c, err := reg.Get("JUPITER")
	require.NoError(t, err)
	assert.Equal(t, "jupiter", c.Name())

	_, err = reg.Get("meteora")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = reg.SwapBuilder("orca")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = reg.SwapBuilder("jupiter")
	assert.NoError(t, err)

	_, err = Build([]config.VenueConfig{{Name: "serum", Enabled: true}}, Deps{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
