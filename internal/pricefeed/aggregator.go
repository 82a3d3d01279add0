// Package pricefeed keeps the latest price of every tracked pair, refreshed
// on a fixed interval from one authoritative venue, and fans each new
// observation out to per-pair listeners.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
	"github.com/alanyoungcy/dexarb/internal/venue"
)

// Listener receives every successful observation for the pair it was
// subscribed to. Errors and panics are logged and never reach other
// listeners.
type Listener func(ctx context.Context, obs domain.PriceObservation) error

// ListenerID identifies a subscription for Unsubscribe.
type ListenerID uint64

// TokenLister is the slice of the catalog the aggregator seeds from.
type TokenLister interface {
	ListTokens(ctx context.Context) ([]domain.Token, error)
}

// Config tunes the refresh loop.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Concurrency  int
	QuoteSymbol  string
}

type subscription struct {
	id ListenerID
	fn Listener
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	source venue.Client
	cfg    Config
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	tracked   map[domain.Pair]struct{}
	latest    map[domain.Pair]domain.PriceObservation
	listeners map[domain.Pair][]subscription
	nextID    ListenerID
}

// New creates an Aggregator polling source. cache and bus may be nil; when
// set, every observation is mirrored to the cache and published on the
// prices channel.
func New(source venue.Client, cfg Config, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.QuoteSymbol == "" {
		cfg.QuoteSymbol = "USDC"
	}
	return &Aggregator{
		source:    source,
		cfg:       cfg,
		cache:     cache,
		bus:       bus,
		logger:    logger.With(slog.String("component", "pricefeed")),
		now:       time.Now,
		tracked:   make(map[domain.Pair]struct{}),
		latest:    make(map[domain.Pair]domain.PriceObservation),
		listeners: make(map[domain.Pair][]subscription),
	}
}

// Track adds pair to the refresh set. Tracking a pair twice is a no-op.
func (a *Aggregator) Track(pair domain.Pair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackLocked(pair)
}

func (a *Aggregator) trackLocked(pair domain.Pair) {
	if _, ok := a.tracked[pair]; ok {
		return
	}
	a.tracked[pair] = struct{}{}
	metrics.TrackedPairs.Set(float64(len(a.tracked)))
}

// Untrack removes pair together with its listeners and cached observation.
// Untracking an unknown pair is a no-op.
func (a *Aggregator) Untrack(pair domain.Pair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tracked, pair)
	delete(a.latest, pair)
	delete(a.listeners, pair)
	metrics.TrackedPairs.Set(float64(len(a.tracked)))
}

// Subscribe registers fn for pair, tracking the pair if needed.
func (a *Aggregator) Subscribe(pair domain.Pair, fn Listener) ListenerID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackLocked(pair)
	a.nextID++
	id := a.nextID
	a.listeners[pair] = append(a.listeners[pair], subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes a listener. The pair stays tracked.
func (a *Aggregator) Unsubscribe(pair domain.Pair, id ListenerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := a.listeners[pair]
	for i, s := range subs {
		if s.id == id {
			a.listeners[pair] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(a.listeners[pair]) == 0 {
		delete(a.listeners, pair)
	}
}

// Latest returns the most recent successful observation for pair.
func (a *Aggregator) Latest(pair domain.Pair) (domain.PriceObservation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obs, ok := a.latest[pair]
	return obs, ok
}

// Pairs returns a snapshot of the tracked pairs.
func (a *Aggregator) Pairs() []domain.Pair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Pair, 0, len(a.tracked))
	for p := range a.tracked {
		out = append(out, p)
	}
	return out
}

// Seed tracks every catalog token against the quote token in both
// directions. A catalog without the quote token is a configuration error.
func (a *Aggregator) Seed(ctx context.Context, catalog TokenLister) error {
	tokens, err := catalog.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("pricefeed: seed: list tokens: %w", err)
	}

	var quote *domain.Token
	for i := range tokens {
		if strings.EqualFold(tokens[i].Symbol, a.cfg.QuoteSymbol) {
			quote = &tokens[i]
			break
		}
	}
	if quote == nil {
		return fmt.Errorf("pricefeed: seed: quote token %q not in catalog: %w", a.cfg.QuoteSymbol, domain.ErrConfiguration)
	}

	a.mu.Lock()
	for _, t := range tokens {
		if t.ID == quote.ID || t.Mint == "" {
			continue
		}
		a.trackLocked(domain.Pair{Base: t.Mint, Quote: quote.Mint})
		a.trackLocked(domain.Pair{Base: quote.Mint, Quote: t.Mint})
	}
	n := len(a.tracked)
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "pricefeed: seeded tracked pairs",
		slog.Int("pairs", n),
		slog.String("quote", quote.Symbol),
	)
	return nil
}

// Run refreshes every tracked pair immediately and then once per interval
// until ctx is cancelled. A refresh in progress is allowed to finish.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "pricefeed: started",
		slog.String("venue", a.source.Name()),
		slog.Duration("interval", a.cfg.Interval),
	)
	defer a.logger.Info("pricefeed: stopped")

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	// Cancellation is checked between ticks; fetches already started run to
	// completion or to their own timeout.
	work := context.WithoutCancel(ctx)
	for {
		a.Refresh(work)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh runs one tick: every tracked pair is fetched concurrently and a
// failure for one pair never affects the others.
func (a *Aggregator) Refresh(ctx context.Context) {
	pairs := a.Pairs()
	if len(pairs) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for _, p := range pairs {
		g.Go(func() error {
			a.refreshPair(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Aggregator) refreshPair(ctx context.Context, pair domain.Pair) {
	fctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	q, err := a.source.GetPrice(fctx, pair)
	cancel()
	if err != nil {
		metrics.PriceRefreshes.WithLabelValues("error").Inc()
		a.logger.WarnContext(ctx, "pricefeed: fetch failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !q.Price.IsPositive() {
		metrics.PriceRefreshes.WithLabelValues("unusable").Inc()
		a.logger.WarnContext(ctx, "pricefeed: non-positive price ignored",
			slog.String("pair", pair.String()),
			slog.String("price", q.Price.String()),
		)
		return
	}

	obs := domain.PriceObservation{Pair: pair, Price: q.Price, ObservedAt: a.now().UTC()}

	a.mu.Lock()
	if _, ok := a.tracked[pair]; !ok {
		// Untracked while the fetch was in flight.
		a.mu.Unlock()
		return
	}
	if prev, ok := a.latest[pair]; ok && prev.Usable() {
		change := obs.Price.Sub(prev.Price).Div(prev.Price).Mul(decimal.NewFromInt(100))
		obs.ChangePct = &change
	}
	a.latest[pair] = obs
	subs := append([]subscription(nil), a.listeners[pair]...)
	a.mu.Unlock()

	metrics.PriceRefreshes.WithLabelValues("ok").Inc()
	a.mirror(ctx, obs)
	for _, s := range subs {
		if err := invoke(ctx, s.fn, obs); err != nil {
			metrics.ListenerFailures.Inc()
			a.logger.WarnContext(ctx, "pricefeed: listener failed",
				slog.String("pair", pair.String()),
				slog.Uint64("listener", uint64(s.id)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func invoke(ctx context.Context, fn Listener, obs domain.PriceObservation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ctx, obs)
}

func (a *Aggregator) mirror(ctx context.Context, obs domain.PriceObservation) {
	if a.cache != nil {
		if err := a.cache.SetPrice(ctx, obs); err != nil {
			a.logger.WarnContext(ctx, "pricefeed: cache write failed",
				slog.String("pair", obs.Pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if a.bus != nil {
		payload, err := json.Marshal(domain.NewPriceEvent(obs))
		if err != nil {
			return
		}
		if err := a.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
			a.logger.WarnContext(ctx, "pricefeed: publish failed",
				slog.String("pair", obs.Pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
