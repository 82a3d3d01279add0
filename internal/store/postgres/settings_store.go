package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// SettingsStore implements domain.SettingsStore over the JSONB settings
// table, one document per (user, category).
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

func (s *SettingsStore) load(ctx context.Context, userID int64, category string) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM settings WHERE user_id = $1 AND category = $2`,
		userID, category,
	).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "get %s settings for user %d", category, userID)
	}
	return doc, nil
}

// Trading decodes the user's trading document over the defaults, so keys
// missing from the stored document keep their default values.
func (s *SettingsStore) Trading(ctx context.Context, userID int64) (domain.TradingSettings, error) {
	doc, err := s.load(ctx, userID, domain.SettingsTrading)
	if err != nil {
		return domain.TradingSettings{}, err
	}
	out := domain.DefaultTradingSettings()
	if err := json.Unmarshal(doc, &out); err != nil {
		return domain.TradingSettings{}, fmt.Errorf("postgres: decode trading settings for user %d: %w", userID, err)
	}
	return out, nil
}

// Venues returns the user's venue enablement map.
func (s *SettingsStore) Venues(ctx context.Context, userID int64) (domain.VenueSettings, error) {
	doc, err := s.load(ctx, userID, domain.SettingsVenues)
	if err != nil {
		return nil, err
	}
	var out domain.VenueSettings
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("postgres: decode venue settings for user %d: %w", userID, err)
	}
	return out, nil
}

// Put replaces the user's document for category.
func (s *SettingsStore) Put(ctx context.Context, userID int64, category string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: marshal %s settings: %w", category, err)
	}

	const query = `
		INSERT INTO settings (user_id, category, settings, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, category) DO UPDATE
		SET settings = EXCLUDED.settings, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, userID, category, data); err != nil {
		return fmt.Errorf("postgres: put %s settings for user %d: %w", category, userID, err)
	}
	return nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
