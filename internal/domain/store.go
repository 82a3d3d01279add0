package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CatalogStore reads the token, venue and wallet catalog.
type CatalogStore interface {
	ListTokens(ctx context.Context) ([]Token, error)
	GetToken(ctx context.Context, id int64) (Token, error)
	GetTokenBySymbol(ctx context.Context, symbol string) (Token, error)
	ListVenues(ctx context.Context) ([]Venue, error)
	GetVenue(ctx context.Context, id int64) (Venue, error)
	GetWallet(ctx context.Context, id int64) (Wallet, error)
	ListActiveWallets(ctx context.Context, userID int64) ([]Wallet, error)
	ListBalances(ctx context.Context, userID int64) ([]TokenBalance, error)
}

// SettingsStore reads and writes per-user settings documents.
type SettingsStore interface {
	// Trading returns the user's trading settings with defaults applied to
	// missing keys. It returns ErrNotFound when the user has no document.
	Trading(ctx context.Context, userID int64) (TradingSettings, error)
	Venues(ctx context.Context, userID int64) (VenueSettings, error)
	Put(ctx context.Context, userID int64, category string, doc any) error
}

// OpportunityStore persists detected opportunities and their lifecycle.
type OpportunityStore interface {
	Create(ctx context.Context, opp Opportunity) (Opportunity, error)
	GetByID(ctx context.Context, id int64) (Opportunity, error)
	ListActive(ctx context.Context) ([]Opportunity, error)
	List(ctx context.Context, status OpportunityStatus, opts ListOpts) ([]Opportunity, error)
	// TransitionStatus atomically moves the opportunity from one status to
	// another. It returns ErrInvalidState when the row is not in from and
	// ErrNotFound when there is no such row.
	TransitionStatus(ctx context.Context, id int64, from, to OpportunityStatus) error
	// MarkFailed records msg on an executing opportunity and moves it to
	// failed.
	MarkFailed(ctx context.Context, id int64, msg string) error
	ExpireBefore(ctx context.Context, before time.Time) (int64, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// TradeStore reads recorded trades.
type TradeStore interface {
	GetByID(ctx context.Context, id int64) (Trade, error)
	List(ctx context.Context, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// ExecutionStore applies the writes of a finished execution attempt in one
// transaction: the trade insert, the opportunity completion and the daily
// performance upsert.
type ExecutionStore interface {
	Complete(ctx context.Context, rec ExecutionRecord) (Trade, error)
}

// PerformanceStore reads daily performance aggregates.
type PerformanceStore interface {
	Get(ctx context.Context, userID int64, day time.Time) (PerformanceMetric, error)
	ListRange(ctx context.Context, userID int64, from, to time.Time) ([]PerformanceMetric, error)
}

// AuditStore is an append-only event log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
