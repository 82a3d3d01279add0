package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/engine"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/pricefeed"
	"github.com/alanyoungcy/dexarb/internal/risk"
	"github.com/alanyoungcy/dexarb/internal/service"
	"github.com/alanyoungcy/dexarb/internal/simulation"
	"github.com/alanyoungcy/dexarb/internal/venue"
)

// core is the arbitrage machinery shared by every mode.
type core struct {
	venues     *venue.Registry
	decimals   *decimalIndex
	aggregator *pricefeed.Aggregator
	detector   *arbitrage.Detector
	executor   *executor.Coordinator
	risk       *risk.Service
	controller *engine.Controller
	arb        *service.ArbService
	prices     *service.PriceService
}

func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	cfg := a.cfg
	c := &core{decimals: &decimalIndex{}}

	if err := c.decimals.load(ctx, deps.Catalog); err != nil {
		return nil, err
	}

	venues, err := venue.Build(cfg.Venues, venue.Deps{
		Limiter:  deps.RateLimiter,
		Decimals: c.decimals.lookup,
	})
	if err != nil {
		return nil, err
	}
	c.venues = venues
	a.logger.InfoContext(ctx, "app: venues configured", slog.Any("venues", venues.Names()))

	feedVenue, err := venues.Get(cfg.PriceFeed.Venue)
	if err != nil {
		return nil, fmt.Errorf("pricefeed venue: %w", err)
	}
	c.aggregator = pricefeed.New(feedVenue, pricefeed.Config{
		Interval:     cfg.PriceFeed.Interval.Duration,
		FetchTimeout: cfg.PriceFeed.FetchTimeout.Duration,
		Concurrency:  cfg.PriceFeed.Concurrency,
		QuoteSymbol:  cfg.PriceFeed.QuoteSymbol,
	}, deps.PriceCache, deps.SignalBus, a.logger)

	c.detector = arbitrage.NewDetector(arbitrage.DetectorConfig{
		Catalog:       deps.Catalog,
		Settings:      deps.Settings,
		Opportunities: deps.Opportunities,
		Venues:        venues,
		Prices:        c.aggregator,
		FeedVenue:     cfg.PriceFeed.Venue,
		Bus:           deps.SignalBus,
		Logger:        a.logger,
		QuoteSymbol:   cfg.PriceFeed.QuoteSymbol,
		FetchTimeout:  cfg.Scanner.FetchTimeout.Duration,
		Concurrency:   cfg.Scanner.Concurrency,
		UnitTradeSize: decimal.NewFromFloat(cfg.Scanner.UnitTradeSize),
	})

	c.risk = risk.NewService(
		risk.NewScorer(risk.Classes{
			Stable:         cfg.Risk.StableSymbols,
			Native:         cfg.Risk.NativeSymbols,
			Volatile:       cfg.Risk.VolatileSymbols,
			ReferenceVenue: cfg.Risk.ReferenceVenue,
		}),
		deps.Catalog, deps.Settings, deps.Opportunities, c.aggregator,
		cfg.PriceFeed.QuoteSymbol, a.logger,
	)

	c.executor = executor.NewCoordinator(executor.Config{
		Catalog:       deps.Catalog,
		Settings:      deps.Settings,
		Opportunities: deps.Opportunities,
		Executions:    deps.Executions,
		Venues:        venues,
		Simulator:     simulation.NewRPC(cfg.Execution.SimulationRPC, cfg.Execution.SimulationTimeout.Duration),
		Keys:          crypto.NewKeyRing(cfg.Execution.KeyPassphrase),
		Bus:           deps.SignalBus,
		Logger:        a.logger,
		QuoteSymbol:   cfg.PriceFeed.QuoteSymbol,
		TradeFloor:    decimal.NewFromFloat(cfg.Execution.DefaultTradeFloor),
		Timeout:       cfg.Execution.Timeout.Duration,
	})

	c.controller = engine.NewController(engine.Deps{
		Scanner:       c.detector,
		Executor:      c.executor,
		Risk:          c.risk,
		Settings:      deps.Settings,
		Catalog:       deps.Catalog,
		Opportunities: deps.Opportunities,
		Locks:         deps.LockManager,
		Logger:        a.logger,
	}, engine.Config{
		UserID:       cfg.Scanner.UserID,
		Interval:     cfg.Scanner.Interval.Duration,
		ErrorBackoff: cfg.Scanner.ErrorBackoff.Duration,
		ExpireAfter:  cfg.Scanner.ExpireAfter.Duration,
		Policy:       cfg.Scanner.SelectionPolicy,
		LockTTL:      cfg.Scanner.LockTTL.Duration,
	})

	c.arb = service.NewArbService(c.detector, c.executor, deps.Opportunities, deps.Trades, deps.Performance, deps.Audit, a.logger)
	if cfg.Risk.RequireVerdict {
		c.arb.WithRiskGate(c.risk)
	}
	c.prices = service.NewPriceService(c.aggregator, deps.PriceCache, a.logger)
	return c, nil
}

// decimalIndex maps mint addresses to token decimals for venue clients.
type decimalIndex struct {
	mu sync.RWMutex
	m  map[string]int32
}

func (d *decimalIndex) load(ctx context.Context, catalog pricefeed.TokenLister) error {
	tokens, err := catalog.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("load token decimals: %w", err)
	}
	m := make(map[string]int32, len(tokens))
	for _, t := range tokens {
		m[t.Mint] = t.Decimals
	}
	d.mu.Lock()
	d.m = m
	d.mu.Unlock()
	return nil
}

func (d *decimalIndex) lookup(mint string) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[mint]
	return v, ok
}
