package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, token_id, buy_dex_id, sell_dex_id, buy_price, sell_price,
	price_diff_percent, potential_profit_usd, status, error_message, created_at, updated_at`

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var o domain.Opportunity
	var status string
	err := row.Scan(
		&o.ID, &o.TokenID, &o.BuyVenueID, &o.SellVenueID,
		&o.BuyPrice, &o.SellPrice, &o.SpreadPct, &o.EstProfit,
		&status, &o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = domain.OpportunityStatus(status)
	return o, err
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var out []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create inserts a new opportunity in the active state and returns it with
// its assigned id and timestamps.
func (s *OpportunityStore) Create(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, error) {
	const query = `
		INSERT INTO opportunities (
			token_id, buy_dex_id, sell_dex_id, buy_price, sell_price,
			price_diff_percent, potential_profit_usd, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + opportunityCols

	if opp.Status == "" {
		opp.Status = domain.OpportunityActive
	}
	created, err := scanOpportunity(s.pool.QueryRow(ctx, query,
		opp.TokenID, opp.BuyVenueID, opp.SellVenueID, opp.BuyPrice, opp.SellPrice,
		opp.SpreadPct, opp.EstProfit, string(opp.Status),
	))
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("postgres: create opportunity for token %d: %w", opp.TokenID, err)
	}
	return created, nil
}

// GetByID returns the opportunity with the given id.
func (s *OpportunityStore) GetByID(ctx context.Context, id int64) (domain.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx, `SELECT `+opportunityCols+` FROM opportunities WHERE id = $1`, id))
	if err != nil {
		return domain.Opportunity{}, notFound(err, "get opportunity %d", id)
	}
	return o, nil
}

// ListActive returns every active opportunity, widest spread first.
func (s *OpportunityStore) ListActive(ctx context.Context) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityCols+` FROM opportunities WHERE status = 'active'
		 ORDER BY price_diff_percent DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

// List returns opportunities newest first, optionally filtered by status.
func (s *OpportunityStore) List(ctx context.Context, status domain.OpportunityStatus, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
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
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

// TransitionStatus is a compare-and-set on the status column. Concurrent
// callers racing on the same row are serialised by the row lock taken by
// UPDATE, so exactly one of them observes an affected row.
func (s *OpportunityStore) TransitionStatus(ctx context.Context, id int64, from, to domain.OpportunityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("postgres: transition opportunity %d to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.explainMiss(ctx, id, from)
}

// MarkFailed moves an executing opportunity to failed and records msg.
func (s *OpportunityStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'executing'`,
		id, msg,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %d failed: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.explainMiss(ctx, id, domain.OpportunityExecuting)
}

// explainMiss distinguishes a missing row from a row in the wrong state
// after a conditional update touched nothing.
func (s *OpportunityStore) explainMiss(ctx context.Context, id int64, want domain.OpportunityStatus) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM opportunities WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: opportunity %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: read opportunity %d status: %w", id, err)
	}
	return fmt.Errorf("postgres: opportunity %d is %s, want %s: %w", id, current, want, domain.ErrInvalidState)
}

// ExpireBefore moves active opportunities created before the cutoff to
// expired and returns how many were changed.
func (s *OpportunityStore) ExpireBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = 'expired', updated_at = NOW()
		 WHERE status = 'active' AND created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListBefore returns terminal opportunities last updated before the cutoff.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityCols+` FROM opportunities
		 WHERE status IN ('completed', 'failed', 'expired') AND updated_at < $1
		 ORDER BY id`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOpportunities(rows)
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
