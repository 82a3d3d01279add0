// Package arbitrage finds cross-venue price discrepancies and records them
// as active opportunities.
package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
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

var hundred = decimal.NewFromInt(100)

// PriceSource is the aggregator's non-blocking view of its latest prices.
type PriceSource interface {
	Latest(pair domain.Pair) (domain.PriceObservation, bool)
}

// VenueLookup resolves a venue name to its client.
type VenueLookup interface {
	Get(name string) (venue.Client, error)
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	Catalog       domain.CatalogStore
	Settings      domain.SettingsStore
	Opportunities domain.OpportunityStore
	Venues        VenueLookup

	// Prices and FeedVenue enable the cache-first lookup: quotes for
	// FeedVenue are taken from Prices when a positive observation exists.
	Prices    PriceSource
	FeedVenue string

	Bus    domain.SignalBus
	Logger *slog.Logger

	QuoteSymbol   string
	FetchTimeout  time.Duration
	Concurrency   int
	UnitTradeSize decimal.Decimal
}

// Detector scans every catalog token across the user's active venues.
type Detector struct {
	catalog  domain.CatalogStore
	settings domain.SettingsStore
	opps     domain.OpportunityStore
	venues   VenueLookup
	prices   PriceSource
	feed     string
	bus      domain.SignalBus
	logger   *slog.Logger

	quoteSymbol string
	timeout     time.Duration
	concurrency int
	unit        decimal.Decimal
	now         func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	d := &Detector{
		catalog:     cfg.Catalog,
		settings:    cfg.Settings,
		opps:        cfg.Opportunities,
		venues:      cfg.Venues,
		prices:      cfg.Prices,
		feed:        strings.ToLower(cfg.FeedVenue),
		bus:         cfg.Bus,
		logger:      cfg.Logger.With(slog.String("component", "detector")),
		quoteSymbol: cfg.QuoteSymbol,
		timeout:     cfg.FetchTimeout,
		concurrency: cfg.Concurrency,
		unit:        cfg.UnitTradeSize,
		now:         time.Now,
	}
	if d.quoteSymbol == "" {
		d.quoteSymbol = "USDC"
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.concurrency <= 0 {
		d.concurrency = 4
	}
	if !d.unit.IsPositive() {
		d.unit = decimal.NewFromInt(1)
	}
	return d
}

// activeVenue pairs a venue's catalog row with its client.
type activeVenue struct {
	row    domain.Venue
	client venue.Client
}

// Scan prices every non-quote token on each active venue and persists an
// active opportunity for every token whose spread strictly exceeds the
// user's threshold. It returns only the opportunities created by this call.
// Failures for one token are logged and never abort the scan.
func (d *Detector) Scan(ctx context.Context, userID int64) ([]domain.Opportunity, error) {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	threshold, err := d.threshold(ctx, userID)
	if err != nil {
		return nil, err
	}
	venues, err := d.activeVenues(ctx, userID)
	if err != nil {
		return nil, err
	}

	quote, err := d.catalog.GetTokenBySymbol(ctx, d.quoteSymbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("detector: quote token %q not in catalog: %w", d.quoteSymbol, domain.ErrConfiguration)
		}
		return nil, fmt.Errorf("detector: load quote token: %w", err)
	}
	tokens, err := d.catalog.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("detector: list tokens: %w", err)
	}

	found := make([]*domain.Opportunity, len(tokens))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, tok := range tokens {
		if tok.ID == quote.ID {
			continue
		}
		g.Go(func() error {
			opp, err := d.scanToken(ctx, tok, quote, venues, threshold)
			if err != nil {
				d.logger.WarnContext(ctx, "detector: token scan failed",
					slog.String("token", tok.Symbol),
					slog.String("error", err.Error()),
				)
				return nil
			}
			found[i] = opp
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Opportunity
	for _, opp := range found {
		if opp != nil {
			out = append(out, *opp)
		}
	}
	d.logger.InfoContext(ctx, "detector: scan finished",
		slog.Int64("user_id", userID),
		slog.Int("tokens", len(tokens)),
		slog.Int("venues", len(venues)),
		slog.Int("opportunities", len(out)),
		slog.Duration("took", time.Since(start)),
	)
	return out, nil
}

func (d *Detector) threshold(ctx context.Context, userID int64) (decimal.Decimal, error) {
	ts, err := d.settings.Trading(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.DefaultTradingSettings().MinProfitThreshold, nil
	case err != nil:
		return decimal.Zero, fmt.Errorf("detector: load trading settings: %w", err)
	}
	return ts.MinProfitThreshold, nil
}

// activeVenues resolves the user's enabled venue names against the catalog
// and the client registry. Every enabled name must resolve on both.
func (d *Detector) activeVenues(ctx context.Context, userID int64) ([]activeVenue, error) {
	vs, err := d.settings.Venues(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("detector: user %d has no venue settings: %w", userID, domain.ErrConfiguration)
		}
		return nil, fmt.Errorf("detector: load venue settings: %w", err)
	}
	names := vs.ActiveNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("detector: user %d has no active venue: %w", userID, domain.ErrConfiguration)
	}

	rows, err := d.catalog.ListVenues(ctx)
	if err != nil {
		return nil, fmt.Errorf("detector: list venues: %w", err)
	}
	byName := make(map[string]domain.Venue, len(rows))
	for _, r := range rows {
		byName[strings.ToLower(r.Name)] = r
	}

	out := make([]activeVenue, 0, len(names))
	for _, name := range names {
		row, ok := byName[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("detector: venue %q not in catalog: %w", name, domain.ErrConfiguration)
		}
		client, err := d.venues.Get(name)
		if err != nil {
			return nil, fmt.Errorf("detector: %w", err)
		}
		out = append(out, activeVenue{row: row, client: client})
	}
	return out, nil
}

type venuePrice struct {
	venue domain.Venue
	price decimal.Decimal
}

func (d *Detector) scanToken(ctx context.Context, tok, quote domain.Token, venues []activeVenue, threshold decimal.Decimal) (*domain.Opportunity, error) {
	pair := domain.Pair{Base: tok.Mint, Quote: quote.Mint}

	prices := make([]venuePrice, len(venues))
	var wg sync.WaitGroup
	for i, v := range venues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := d.priceOn(ctx, v, pair)
			if err != nil {
				d.logger.DebugContext(ctx, "detector: no price",
					slog.String("token", tok.Symbol),
					slog.String("venue", v.row.Name),
					slog.String("error", err.Error()),
				)
				return
			}
			prices[i] = venuePrice{venue: v.row, price: p}
		}()
	}
	wg.Wait()

	var usable []venuePrice
	for _, p := range prices {
		if p.price.IsPositive() {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 {
		return nil, nil
	}

	buy, sell := usable[0], usable[0]
	for _, p := range usable[1:] {
		if p.price.LessThan(buy.price) {
			buy = p
		}
		if p.price.GreaterThan(sell.price) {
			sell = p
		}
	}
	if buy.venue.ID == sell.venue.ID {
		return nil, nil
	}

	spread := sell.price.Sub(buy.price).Div(buy.price).Mul(hundred)
	if !spread.GreaterThan(threshold) {
		return nil, nil
	}

	opp, err := d.opps.Create(ctx, domain.Opportunity{
		TokenID:     tok.ID,
		BuyVenueID:  buy.venue.ID,
		SellVenueID: sell.venue.ID,
		BuyPrice:    buy.price,
		SellPrice:   sell.price,
		SpreadPct:   spread,
		EstProfit:   d.unit.Mul(sell.price.Sub(buy.price)),
		Status:      domain.OpportunityActive,
	})
	if err != nil {
		return nil, fmt.Errorf("persist opportunity: %w", err)
	}

	metrics.OpportunitiesDetected.Inc()
	d.logger.InfoContext(ctx, "detector: opportunity found",
		slog.Int64("opportunity_id", opp.ID),
		slog.String("token", tok.Symbol),
		slog.String("buy_venue", buy.venue.Name),
		slog.String("buy_price", buy.price.String()),
		slog.String("sell_venue", sell.venue.Name),
		slog.String("sell_price", sell.price.String()),
		slog.String("spread_pct", spread.StringFixed(4)),
	)
	d.publish(ctx, "opportunity_detected", opp)
	return &opp, nil
}

// priceOn consults the aggregator for the feed venue and falls back to a
// direct quote when it has no positive observation.
func (d *Detector) priceOn(ctx context.Context, v activeVenue, pair domain.Pair) (decimal.Decimal, error) {
	if d.prices != nil && strings.EqualFold(v.row.Name, d.feed) {
		if obs, ok := d.prices.Latest(pair); ok && obs.Usable() {
			return obs.Price, nil
		}
	}
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	q, err := v.client.GetPrice(qctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// ExpireStale moves active opportunities older than maxAge to expired and
// returns how many were moved.
func (d *Detector) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	n, err := d.opps.ExpireBefore(ctx, d.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("detector: expire stale: %w", err)
	}
	if n > 0 {
		d.logger.InfoContext(ctx, "detector: expired stale opportunities",
			slog.Int64("count", n),
			slog.Duration("max_age", maxAge),
		)
	}
	return n, nil
}

func (d *Detector) publish(ctx context.Context, kind string, opp domain.Opportunity) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.OpportunityEvent{Type: kind, Opportunity: opp})
	if err != nil {
		return
	}
	if err := d.bus.Publish(ctx, domain.ChannelOpportunities, payload); err != nil {
		d.logger.WarnContext(ctx, "detector: publish failed",
			slog.Int64("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
}
