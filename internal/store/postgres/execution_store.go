package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. All writes of a finished
// execution attempt share one transaction.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const insertTrade = `
	INSERT INTO trades (
		opportunity_id, wallet_id, token_id, buy_dex_id, sell_dex_id,
		buy_price, sell_price, amount, profit_usd, status,
		tx_hash_buy, tx_hash_sell, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + tradeCols

// upsertPerformance adds one trade to the day's row. A new row counts the
// opportunity it was created for; the running average response time is
// weighted by the previous trade count.
const upsertPerformance = `
	INSERT INTO performance_metrics (
		user_id, date, profit_usd, trades_count, opportunities_count, avg_response_time_ms
	) VALUES ($1, $2, $3, 1, 1, $4)
	ON CONFLICT (user_id, date) DO UPDATE SET
		profit_usd = performance_metrics.profit_usd + EXCLUDED.profit_usd,
		trades_count = performance_metrics.trades_count + 1,
		avg_response_time_ms = (performance_metrics.avg_response_time_ms * performance_metrics.trades_count
			+ EXCLUDED.avg_response_time_ms) / (performance_metrics.trades_count + 1)`

// Complete inserts the trade, moves its opportunity from executing to
// completed and upserts the daily performance row. Any failure rolls the
// whole attempt back.
func (s *ExecutionStore) Complete(ctx context.Context, rec domain.ExecutionRecord) (domain.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := rec.Trade
	trade, err := scanTrade(tx.QueryRow(ctx, insertTrade,
		t.OpportunityID, t.WalletID, t.TokenID, t.BuyVenueID, t.SellVenueID,
		t.BuyPrice, t.SellPrice, t.Amount, t.RealizedProfit, string(t.Status),
		t.BuyRef, t.SellRef, t.ErrorMessage,
	))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: insert trade: %w", err)
	}

	if t.OpportunityID != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE opportunities SET status = 'completed', updated_at = NOW()
			 WHERE id = $1 AND status = 'executing'`,
			*t.OpportunityID,
		)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("postgres: complete opportunity %d: %w", *t.OpportunityID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.Trade{}, fmt.Errorf("postgres: opportunity %d is not executing: %w", *t.OpportunityID, domain.ErrInvalidState)
		}
	}

	day := rec.Day.UTC().Truncate(24 * time.Hour)
	if _, err := tx.Exec(ctx, upsertPerformance, rec.UserID, day, t.RealizedProfit, rec.ResponseTimeMs); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: upsert performance for user %d: %w", rec.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: commit execution: %w", err)
	}
	return trade, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
