package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, opportunity_id, wallet_id, token_id, buy_dex_id, sell_dex_id,
	buy_price, sell_price, amount, profit_usd, status, tx_hash_buy, tx_hash_sell,
	error_message, created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var status string
	err := row.Scan(
		&t.ID, &t.OpportunityID, &t.WalletID, &t.TokenID, &t.BuyVenueID, &t.SellVenueID,
		&t.BuyPrice, &t.SellPrice, &t.Amount, &t.RealizedProfit, &status,
		&t.BuyRef, &t.SellRef, &t.ErrorMessage, &t.CreatedAt,
	)
	t.Status = domain.TradeStatus(status)
	return t, err
}

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetByID returns the trade with the given id.
func (s *TradeStore) GetByID(ctx context.Context, id int64) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		return domain.Trade{}, notFound(err, "get trade %d", id)
	}
	return t, nil
}

// List returns trades newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	return collectTrades(rows)
}

// ListBefore returns trades created before the cutoff.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tradeCols+` FROM trades WHERE created_at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectTrades(rows)
}

var _ domain.TradeStore = (*TradeStore)(nil)
