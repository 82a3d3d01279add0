package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// PerformanceStore reads the daily performance_metrics rows.
type PerformanceStore struct {
	pool *pgxpool.Pool
}

// NewPerformanceStore creates a new PerformanceStore backed by the given pool.
func NewPerformanceStore(pool *pgxpool.Pool) *PerformanceStore {
	return &PerformanceStore{pool: pool}
}

const performanceCols = `user_id, date, profit_usd, trades_count, opportunities_count, avg_response_time_ms`

func scanPerformance(row pgx.Row) (domain.PerformanceMetric, error) {
	var m domain.PerformanceMetric
	err := row.Scan(&m.UserID, &m.Date, &m.Profit, &m.TradesCount, &m.OpportunitiesCount, &m.AvgResponseTimeMs)
	return m, err
}

// Get returns the user's row for the calendar day containing day (UTC).
func (s *PerformanceStore) Get(ctx context.Context, userID int64, day time.Time) (domain.PerformanceMetric, error) {
	d := day.UTC().Truncate(24 * time.Hour)
	m, err := scanPerformance(s.pool.QueryRow(ctx,
		`SELECT `+performanceCols+` FROM performance_metrics WHERE user_id = $1 AND date = $2`, userID, d))
	if err != nil {
		return domain.PerformanceMetric{}, notFound(err, "get performance for user %d on %s", userID, d.Format(time.DateOnly))
	}
	return m, nil
}

// ListRange returns the user's rows between from and to inclusive, oldest
// first.
func (s *PerformanceStore) ListRange(ctx context.Context, userID int64, from, to time.Time) ([]domain.PerformanceMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+performanceCols+` FROM performance_metrics
		 WHERE user_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date`,
		userID, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("postgres: list performance for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.PerformanceMetric
	for rows.Next() {
		m, err := scanPerformance(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan performance: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ domain.PerformanceStore = (*PerformanceStore)(nil)
