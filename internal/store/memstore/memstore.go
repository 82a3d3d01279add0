// Package memstore implements the domain stores in memory for unit tests.
// Every store returned by a DB shares one lock so ExecutionStore.Complete is
// atomic like its SQL counterpart.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// DB is the shared in-memory state.
type DB struct {
	mu  sync.Mutex
	now func() time.Time

	tokens   map[int64]domain.Token
	venues   map[int64]domain.Venue
	wallets  map[int64]domain.Wallet
	balances []domain.TokenBalance
	settings map[settingsKey][]byte
	opps     map[int64]domain.Opportunity
	trades   map[int64]domain.Trade
	perf     map[perfKey]domain.PerformanceMetric
	audit    []AuditEntry

	nextOpp   int64
	nextTrade int64
}

type settingsKey struct {
	user     int64
	category string
}

type perfKey struct {
	user int64
	day  time.Time
}

// AuditEntry is one recorded audit event.
type AuditEntry struct {
	Event  string
	Detail map[string]any
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		now:      time.Now,
		tokens:   make(map[int64]domain.Token),
		venues:   make(map[int64]domain.Venue),
		wallets:  make(map[int64]domain.Wallet),
		settings: make(map[settingsKey][]byte),
		opps:     make(map[int64]domain.Opportunity),
		trades:   make(map[int64]domain.Trade),
		perf:     make(map[perfKey]domain.PerformanceMetric),
	}
}

// SetClock replaces the clock used for timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

// AddToken, AddVenue, AddWallet and AddBalance seed the catalog.
func (db *DB) AddToken(t domain.Token) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tokens[t.ID] = t
}

func (db *DB) AddVenue(v domain.Venue) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.venues[v.ID] = v
}

func (db *DB) AddWallet(w domain.Wallet) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.wallets[w.ID] = w
}

func (db *DB) AddBalance(b domain.TokenBalance) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.balances = append(db.balances, b)
}

// Audit returns a copy of the audit log.
func (db *DB) Audit() []AuditEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.audit)
}

// Catalog returns the CatalogStore view.
func (db *DB) Catalog() *Catalog { return &Catalog{db} }

// Settings returns the SettingsStore view.
func (db *DB) Settings() *Settings { return &Settings{db} }

// Opportunities returns the OpportunityStore view.
func (db *DB) Opportunities() *Opportunities { return &Opportunities{db} }

// Trades returns the TradeStore view.
func (db *DB) Trades() *Trades { return &Trades{db} }

// Executions returns the ExecutionStore view.
func (db *DB) Executions() *Executions { return &Executions{db} }

// Performance returns the PerformanceStore view.
func (db *DB) Performance() *Performance { return &Performance{db} }

// AuditLog returns the AuditStore view.
func (db *DB) AuditLog() *AuditLog { return &AuditLog{db} }

// Catalog implements domain.CatalogStore.
type Catalog struct{ db *DB }

func sortedValues[K comparable, V any](m map[K]V, id func(V) int64) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b V) int { return cmp.Compare(id(a), id(b)) })
	return out
}

func (c *Catalog) ListTokens(context.Context) ([]domain.Token, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return sortedValues(c.db.tokens, func(t domain.Token) int64 { return t.ID }), nil
}

func (c *Catalog) GetToken(_ context.Context, id int64) (domain.Token, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	t, ok := c.db.tokens[id]
	if !ok {
		return t, fmt.Errorf("memstore: token %d: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (c *Catalog) GetTokenBySymbol(_ context.Context, symbol string) (domain.Token, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	for _, t := range c.db.tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, nil
		}
	}
	return domain.Token{}, fmt.Errorf("memstore: token %q: %w", symbol, domain.ErrNotFound)
}

func (c *Catalog) ListVenues(context.Context) ([]domain.Venue, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return sortedValues(c.db.venues, func(v domain.Venue) int64 { return v.ID }), nil
}

func (c *Catalog) GetVenue(_ context.Context, id int64) (domain.Venue, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	v, ok := c.db.venues[id]
	if !ok {
		return v, fmt.Errorf("memstore: venue %d: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

func (c *Catalog) GetWallet(_ context.Context, id int64) (domain.Wallet, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	w, ok := c.db.wallets[id]
	if !ok {
		return w, fmt.Errorf("memstore: wallet %d: %w", id, domain.ErrNotFound)
	}
	return w, nil
}

func (c *Catalog) ListActiveWallets(_ context.Context, userID int64) ([]domain.Wallet, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	var out []domain.Wallet
	for _, w := range sortedValues(c.db.wallets, func(w domain.Wallet) int64 { return w.ID }) {
		if w.UserID == userID && w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (c *Catalog) ListBalances(_ context.Context, userID int64) ([]domain.TokenBalance, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	var out []domain.TokenBalance
	for _, b := range c.db.balances {
		if w, ok := c.db.wallets[b.WalletID]; ok && w.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

// Settings implements domain.SettingsStore with the same decode-over-
// defaults behaviour as the SQL store.
type Settings struct{ db *DB }

func (s *Settings) load(userID int64, category string) ([]byte, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	doc, ok := s.db.settings[settingsKey{userID, category}]
	if !ok {
		return nil, fmt.Errorf("memstore: %s settings for user %d: %w", category, userID, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *Settings) Trading(_ context.Context, userID int64) (domain.TradingSettings, error) {
	doc, err := s.load(userID, domain.SettingsTrading)
	if err != nil {
		return domain.TradingSettings{}, err
	}
	out := domain.DefaultTradingSettings()
	if err := json.Unmarshal(doc, &out); err != nil {
		return domain.TradingSettings{}, fmt.Errorf("memstore: decode trading settings: %w", err)
	}
	return out, nil
}

func (s *Settings) Venues(_ context.Context, userID int64) (domain.VenueSettings, error) {
	doc, err := s.load(userID, domain.SettingsVenues)
	if err != nil {
		return nil, err
	}
	var out domain.VenueSettings
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("memstore: decode venue settings: %w", err)
	}
	return out, nil
}

func (s *Settings) Put(_ context.Context, userID int64, category string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memstore: marshal %s settings: %w", category, err)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.settings[settingsKey{userID, category}] = data
	return nil
}

// Opportunities implements domain.OpportunityStore.
type Opportunities struct{ db *DB }

func (o *Opportunities) Create(_ context.Context, opp domain.Opportunity) (domain.Opportunity, error) {
	if opp.BuyVenueID == opp.SellVenueID {
		return domain.Opportunity{}, fmt.Errorf("memstore: create opportunity: buy and sell venue are both %d", opp.BuyVenueID)
	}
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	o.db.nextOpp++
	opp.ID = o.db.nextOpp
	if opp.Status == "" {
		opp.Status = domain.OpportunityActive
	}
	now := o.db.now().UTC()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now
	o.db.opps[opp.ID] = opp
	return opp, nil
}

func (o *Opportunities) GetByID(_ context.Context, id int64) (domain.Opportunity, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	opp, ok := o.db.opps[id]
	if !ok {
		return opp, fmt.Errorf("memstore: opportunity %d: %w", id, domain.ErrNotFound)
	}
	return opp, nil
}

func (o *Opportunities) ListActive(ctx context.Context) ([]domain.Opportunity, error) {
	out, err := o.List(ctx, domain.OpportunityActive, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b domain.Opportunity) int {
		if c := b.SpreadPct.Cmp(a.SpreadPct); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (o *Opportunities) List(_ context.Context, status domain.OpportunityStatus, opts domain.ListOpts) ([]domain.Opportunity, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	var out []domain.Opportunity
	for _, opp := range o.db.opps {
		if status != "" && opp.Status != status {
			continue
		}
		if opts.Since != nil && opp.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !opp.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, opp)
	}
	slices.SortFunc(out, func(a, b domain.Opportunity) int { return cmp.Compare(b.ID, a.ID) })
	return page(out, opts), nil
}

func page[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}

func (o *Opportunities) TransitionStatus(_ context.Context, id int64, from, to domain.OpportunityStatus) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	opp, ok := o.db.opps[id]
	if !ok {
		return fmt.Errorf("memstore: opportunity %d: %w", id, domain.ErrNotFound)
	}
	if opp.Status != from {
		return fmt.Errorf("memstore: opportunity %d is %s, not %s: %w", id, opp.Status, from, domain.ErrInvalidState)
	}
	opp.Status = to
	opp.UpdatedAt = o.db.now().UTC()
	o.db.opps[id] = opp
	return nil
}

func (o *Opportunities) MarkFailed(_ context.Context, id int64, msg string) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	opp, ok := o.db.opps[id]
	if !ok {
		return fmt.Errorf("memstore: opportunity %d: %w", id, domain.ErrNotFound)
	}
	if opp.Status != domain.OpportunityExecuting {
		return fmt.Errorf("memstore: opportunity %d is %s: %w", id, opp.Status, domain.ErrInvalidState)
	}
	opp.Status = domain.OpportunityFailed
	opp.ErrorMessage = msg
	opp.UpdatedAt = o.db.now().UTC()
	o.db.opps[id] = opp
	return nil
}

func (o *Opportunities) ExpireBefore(_ context.Context, before time.Time) (int64, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	var n int64
	for id, opp := range o.db.opps {
		if opp.Status == domain.OpportunityActive && opp.CreatedAt.Before(before) {
			opp.Status = domain.OpportunityExpired
			opp.UpdatedAt = o.db.now().UTC()
			o.db.opps[id] = opp
			n++
		}
	}
	return n, nil
}

func (o *Opportunities) ListBefore(_ context.Context, before time.Time) ([]domain.Opportunity, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	var out []domain.Opportunity
	for _, opp := range o.db.opps {
		if opp.Status.Terminal() && opp.UpdatedAt.Before(before) {
			out = append(out, opp)
		}
	}
	slices.SortFunc(out, func(a, b domain.Opportunity) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Trades implements domain.TradeStore.
type Trades struct{ db *DB }

func (t *Trades) GetByID(_ context.Context, id int64) (domain.Trade, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	tr, ok := t.db.trades[id]
	if !ok {
		return tr, fmt.Errorf("memstore: trade %d: %w", id, domain.ErrNotFound)
	}
	return tr, nil
}

func (t *Trades) List(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	var out []domain.Trade
	for _, tr := range t.db.trades {
		if opts.Since != nil && tr.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !tr.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, tr)
	}
	slices.SortFunc(out, func(a, b domain.Trade) int { return cmp.Compare(b.ID, a.ID) })
	return page(out, opts), nil
}

func (t *Trades) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	var out []domain.Trade
	for _, tr := range t.db.trades {
		if tr.CreatedAt.Before(before) {
			out = append(out, tr)
		}
	}
	slices.SortFunc(out, func(a, b domain.Trade) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Executions implements domain.ExecutionStore.
type Executions struct{ db *DB }

// Complete applies the record under the shared lock. Nothing is written
// when the opportunity is not executing.
func (e *Executions) Complete(_ context.Context, rec domain.ExecutionRecord) (domain.Trade, error) {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()

	now := e.db.now().UTC()
	t := rec.Trade
	if t.OpportunityID != nil {
		opp, ok := e.db.opps[*t.OpportunityID]
		if !ok || opp.Status != domain.OpportunityExecuting {
			return domain.Trade{}, fmt.Errorf("memstore: opportunity %d is not executing: %w", *t.OpportunityID, domain.ErrInvalidState)
		}
		for _, existing := range e.db.trades {
			if existing.OpportunityID != nil && *existing.OpportunityID == *t.OpportunityID {
				return domain.Trade{}, fmt.Errorf("memstore: opportunity %d already has a trade: %w", *t.OpportunityID, domain.ErrInvalidState)
			}
		}
		opp.Status = domain.OpportunityCompleted
		opp.UpdatedAt = now
		e.db.opps[opp.ID] = opp
	}

	e.db.nextTrade++
	t.ID = e.db.nextTrade
	t.CreatedAt = now
	e.db.trades[t.ID] = t

	day := rec.Day.UTC().Truncate(24 * time.Hour)
	key := perfKey{rec.UserID, day}
	m, ok := e.db.perf[key]
	if !ok {
		m = domain.PerformanceMetric{UserID: rec.UserID, Date: day, Profit: t.RealizedProfit, TradesCount: 1, OpportunitiesCount: 1, AvgResponseTimeMs: rec.ResponseTimeMs}
	} else {
		m.AvgResponseTimeMs = (m.AvgResponseTimeMs*float64(m.TradesCount) + rec.ResponseTimeMs) / float64(m.TradesCount+1)
		m.Profit = m.Profit.Add(t.RealizedProfit)
		m.TradesCount++
	}
	e.db.perf[key] = m
	return t, nil
}

// Performance implements domain.PerformanceStore.
type Performance struct{ db *DB }

func (p *Performance) Get(_ context.Context, userID int64, day time.Time) (domain.PerformanceMetric, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	m, ok := p.db.perf[perfKey{userID, day.UTC().Truncate(24 * time.Hour)}]
	if !ok {
		return m, fmt.Errorf("memstore: performance for user %d: %w", userID, domain.ErrNotFound)
	}
	return m, nil
}

func (p *Performance) ListRange(_ context.Context, userID int64, from, to time.Time) ([]domain.PerformanceMetric, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	var out []domain.PerformanceMetric
	for k, m := range p.db.perf {
		if k.user == userID && !k.day.Before(from) && !k.day.After(to) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.PerformanceMetric) int { return a.Date.Compare(b.Date) })
	return out, nil
}

// AuditLog implements domain.AuditStore.
type AuditLog struct{ db *DB }

func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	a.db.audit = append(a.db.audit, AuditEntry{Event: event, Detail: detail})
	return nil
}

var (
	_ domain.CatalogStore     = (*Catalog)(nil)
	_ domain.SettingsStore    = (*Settings)(nil)
	_ domain.OpportunityStore = (*Opportunities)(nil)
	_ domain.TradeStore       = (*Trades)(nil)
	_ domain.ExecutionStore   = (*Executions)(nil)
	_ domain.PerformanceStore = (*Performance)(nil)
	_ domain.AuditStore       = (*AuditLog)(nil)
)
