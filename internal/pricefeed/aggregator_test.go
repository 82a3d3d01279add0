package pricefeed

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
	"github.com/alanyoungcy/dexarb/internal/venue"
)

var (
	solUSDC  = domain.Pair{Base: "sol", Quote: "usdc"}
	bonkUSDC = domain.Pair{Base: "bonk", Quote: "usdc"}
)

type stubVenue struct {
	mu     sync.Mutex
	prices map[domain.Pair]decimal.Decimal
	errs   map[domain.Pair]error
	calls  map[domain.Pair]int
}

func newStubVenue() *stubVenue {
	return &stubVenue{
		prices: map[domain.Pair]decimal.Decimal{},
		errs:   map[domain.Pair]error{},
		calls:  map[domain.Pair]int{},
	}
}

func (s *stubVenue) Name() string { return "stub" }

func (s *stubVenue) set(p domain.Pair, price string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if price != "" {
		s.prices[p] = decimal.RequireFromString(price)
	}
	s.errs[p] = err
}

func (s *stubVenue) GetPrice(_ context.Context, p domain.Pair) (venue.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[p]++
	if err := s.errs[p]; err != nil {
		return venue.Quote{}, err
	}
	return venue.Quote{Price: s.prices[p]}, nil
}

type memCache struct {
	mu  sync.Mutex
	obs map[domain.Pair]domain.PriceObservation
}

func (m *memCache) SetPrice(_ context.Context, o domain.PriceObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs[o.Pair] = o
	return nil
}

func (m *memCache) GetPrice(_ context.Context, p domain.Pair) (domain.PriceObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.obs[p]
	if !ok {
		return o, domain.ErrNotFound
	}
	return o, nil
}

func (m *memCache) GetPrices(ctx context.Context, ps []domain.Pair) (map[domain.Pair]domain.PriceObservation, error) {
	out := map[domain.Pair]domain.PriceObservation{}
	for _, p := range ps {
		if o, err := m.GetPrice(ctx, p); err == nil {
			out[p] = o
		}
	}
	return out, nil
}

func newTestAggregator(src venue.Client) *Aggregator {
	return New(src, Config{Interval: 10 * time.Millisecond}, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTrackIsIdempotent(t *testing.T) {
	a := newTestAggregator(newStubVenue())
	a.Track(solUSDC)
	a.Track(solUSDC)
	assert.Len(t, a.Pairs(), 1)

	a.Untrack(bonkUSDC)
	a.Untrack(solUSDC)
	a.Untrack(solUSDC)
	assert.Empty(t, a.Pairs())
}

func TestRefreshComputesChangePct(t *testing.T) {
	src := newStubVenue()
	a := newTestAggregator(src)
	a.Track(solUSDC)

	_, ok := a.Latest(solUSDC)
	assert.False(t, ok)

	src.set(solUSDC, "100", nil)
	a.Refresh(context.Background())
	obs, ok := a.Latest(solUSDC)
	require.True(t, ok)
	assert.True(t, obs.Price.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, obs.ChangePct)

	src.set(solUSDC, "110", nil)
	a.Refresh(context.Background())
	obs, _ = a.Latest(solUSDC)
	require.NotNil(t, obs.ChangePct)
	assert.True(t, obs.ChangePct.Equal(decimal.NewFromInt(10)), "got %s", obs.ChangePct)
}

func TestFailedFetchKeepsStaleObservation(t *testing.T) {
	src := newStubVenue()
	a := newTestAggregator(src)
	a.Track(solUSDC)
	a.Track(bonkUSDC)

	src.set(solUSDC, "100", nil)
	src.set(bonkUSDC, "0.00002", nil)
	a.Refresh(context.Background())

	src.set(solUSDC, "", errors.New("boom"))
	src.set(bonkUSDC, "0.00003", nil)
	a.Refresh(context.Background())

	sol, ok := a.Latest(solUSDC)
	require.True(t, ok)
	assert.True(t, sol.Price.Equal(decimal.NewFromInt(100)))

	bonk, _ := a.Latest(bonkUSDC)
	assert.True(t, bonk.Price.Equal(decimal.RequireFromString("0.00003")))
}

func TestNonPositivePriceIgnored(t *testing.T) {
	src := newStubVenue()
	a := newTestAggregator(src)
	a.Track(solUSDC)
	src.set(solUSDC, "0", nil)
	a.Refresh(context.Background())
	_, ok := a.Latest(solUSDC)
	assert.False(t, ok)
}

func TestListenerFailuresAreIsolated(t *testing.T) {
	src := newStubVenue()
	src.set(solUSDC, "100", nil)
	a := newTestAggregator(src)

	var got []decimal.Decimal
	a.Subscribe(solUSDC, func(context.Context, domain.PriceObservation) error { panic("listener bug") })
	a.Subscribe(solUSDC, func(context.Context, domain.PriceObservation) error { return errors.New("listener error") })
	a.Subscribe(solUSDC, func(_ context.Context, o domain.PriceObservation) error {
		got = append(got, o.Price)
		return nil
	})

	assert.NotPanics(t, func() { a.Refresh(context.Background()) })
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(decimal.NewFromInt(100)))
}

func TestSubscribeTracksAndUnsubscribeStopsDelivery(t *testing.T) {
	src := newStubVenue()
	src.set(solUSDC, "100", nil)
	a := newTestAggregator(src)

	calls := 0
	id := a.Subscribe(solUSDC, func(context.Context, domain.PriceObservation) error {
		calls++
		return nil
	})
	assert.Equal(t, []domain.Pair{solUSDC}, a.Pairs())

	a.Refresh(context.Background())
	a.Unsubscribe(solUSDC, id)
	a.Refresh(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, []domain.Pair{solUSDC}, a.Pairs())
}

func TestUntrackDropsListenersAndObservation(t *testing.T) {
	src := newStubVenue()
	src.set(solUSDC, "100", nil)
	a := newTestAggregator(src)

	calls := 0
	a.Subscribe(solUSDC, func(context.Context, domain.PriceObservation) error {
		calls++
		return nil
	})
	a.Refresh(context.Background())
	a.Untrack(solUSDC)

	_, ok := a.Latest(solUSDC)
	assert.False(t, ok)

	a.Track(solUSDC)
	a.Refresh(context.Background())
	assert.Equal(t, 1, calls)
}

type tokenList []domain.Token

func (l tokenList) ListTokens(context.Context) ([]domain.Token, error) { return l, nil }

func TestSeedTracksBothDirections(t *testing.T) {
	a := newTestAggregator(newStubVenue())
	err := a.Seed(context.Background(), tokenList{
		{ID: 1, Symbol: "SOL", Mint: "sol"},
		{ID: 2, Symbol: "USDC", Mint: "usdc"},
		{ID: 3, Symbol: "BONK", Mint: "bonk"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Pair{
		solUSDC, solUSDC.Inverse(), bonkUSDC, bonkUSDC.Inverse(),
	}, a.Pairs())

	err = newTestAggregator(newStubVenue()).Seed(context.Background(), tokenList{{ID: 1, Symbol: "SOL", Mint: "sol"}})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestObservationsAreMirroredToCache(t *testing.T) {
	src := newStubVenue()
	src.set(solUSDC, "101.5", nil)
	cache := &memCache{obs: map[domain.Pair]domain.PriceObservation{}}
	a := New(src, Config{}, cache, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.Track(solUSDC)
	a.Refresh(context.Background())

	obs, err := cache.GetPrice(context.Background(), solUSDC)
	require.NoError(t, err)
	assert.True(t, obs.Price.Equal(decimal.RequireFromString("101.5")))
}

func TestRunStopsOnCancel(t *testing.T) {
	src := newStubVenue()
	src.set(solUSDC, "100", nil)
	a := newTestAggregator(src)
	a.Track(solUSDC)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := a.Latest(solUSDC)
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// slowVenue blocks in GetPrice until release is closed.
type slowVenue struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	canceled chan bool
}

func (s *slowVenue) Name() string { return "slow" }

func (s *slowVenue) GetPrice(ctx context.Context, _ domain.Pair) (venue.Quote, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-ctx.Done():
		s.canceled <- true
		return venue.Quote{}, ctx.Err()
	case <-s.release:
		s.canceled <- false
		return venue.Quote{Price: decimal.NewFromInt(100)}, nil
	}
}

func TestRunLetsRunningFetchFinish(t *testing.T) {
	src := &slowVenue{started: make(chan struct{}), release: make(chan struct{}), canceled: make(chan bool, 1)}
	a := newTestAggregator(src)
	a.Track(solUSDC)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	<-src.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a fetch was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	assert.False(t, <-src.canceled)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the fetch finished")
	}
	_, ok := a.Latest(solUSDC)
	assert.True(t, ok)
}
