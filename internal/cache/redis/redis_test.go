package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

var solUSDC = domain.Pair{Base: "sol-mint", Quote: "usdc-mint"}

func TestPriceCacheRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewPriceCache(c, time.Minute)
	ctx := context.Background()

	_, err := cache.GetPrice(ctx, solUSDC)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	change := decimal.RequireFromString("-1.5")
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SetPrice(ctx, domain.PriceObservation{
		Pair: solUSDC, Price: decimal.RequireFromString("99.75"), ObservedAt: observed, ChangePct: &change,
	}))

	got, err := cache.GetPrice(ctx, solUSDC)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("99.75")))
	assert.True(t, got.ObservedAt.Equal(observed))
	require.NotNil(t, got.ChangePct)
	assert.True(t, got.ChangePct.Equal(change))

	// A later observation without a change drops the stale change field.
	require.NoError(t, cache.SetPrice(ctx, domain.PriceObservation{
		Pair: solUSDC, Price: decimal.RequireFromString("100"), ObservedAt: observed.Add(time.Second),
	}))
	got, err = cache.GetPrice(ctx, solUSDC)
	require.NoError(t, err)
	assert.Nil(t, got.ChangePct)

	mr.FastForward(2 * time.Minute)
	_, err = cache.GetPrice(ctx, solUSDC)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCacheGetPricesSkipsMissing(t *testing.T) {
	c, _ := newTestClient(t)
	cache := NewPriceCache(c, 0)
	ctx := context.Background()

	require.NoError(t, cache.SetPrice(ctx, domain.PriceObservation{
		Pair: solUSDC, Price: decimal.NewFromInt(100), ObservedAt: time.Now(),
	}))

	got, err := cache.GetPrices(ctx, []domain.Pair{solUSDC, solUSDC.Inverse()})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, solUSDC)
}

func TestLockManagerExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	locks := NewLockManager(c)
	ctx := context.Background()

	unlock, err := locks.Acquire(ctx, "scanner:1", time.Minute)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "scanner:1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := locks.Acquire(ctx, "scanner:1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiterFixedWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "venue:jupiter", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "venue:jupiter", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, err = rl.Allow(ctx, "venue:jupiter", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(ctx, "unlimited", 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelPrices, []byte(`{"price":"1"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"price":"1"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNamespaceIsolatesKeysAndChannels(t *testing.T) {
	base, mr := newTestClient(t)
	a, b := base.WithNamespace("blue:"), base.WithNamespace("green")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, NewPriceCache(a, 0).SetPrice(ctx, domain.PriceObservation{
		Pair: solUSDC, Price: decimal.NewFromInt(100), ObservedAt: time.Now(),
	}))
	assert.True(t, mr.Exists("blue:price:sol-mint:usdc-mint"))
	_, err := NewPriceCache(b, 0).GetPrice(ctx, solUSDC)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	unlock, err := NewLockManager(a).Acquire(ctx, "scan:1", time.Minute)
	require.NoError(t, err)
	defer unlock()
	other, err := NewLockManager(b).Acquire(ctx, "scan:1", time.Minute)
	require.NoError(t, err)
	other()

	greenCh, err := NewSignalBus(b).Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)
	blueCh, err := NewSignalBus(a).Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)
	require.NoError(t, NewSignalBus(a).Publish(ctx, domain.ChannelTrades, []byte(`{}`)))

	select {
	case msg := <-blueCh:
		assert.Equal(t, `{}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("namespaced subscriber got nothing")
	}
	select {
	case <-greenCh:
		t.Fatal("message crossed namespaces")
	case <-time.After(100 * time.Millisecond):
	}
}
