package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a new CatalogStore backed by the given pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

const tokenCols = `id, symbol, name, mint_address, decimals`

func scanToken(row pgx.Row) (domain.Token, error) {
	var t domain.Token
	err := row.Scan(&t.ID, &t.Symbol, &t.Name, &t.Mint, &t.Decimals)
	return t, err
}

// ListTokens returns every token ordered by id.
func (s *CatalogStore) ListTokens(ctx context.Context) ([]domain.Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenCols+` FROM tokens ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// GetToken returns the token with the given id.
func (s *CatalogStore) GetToken(ctx context.Context, id int64) (domain.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM tokens WHERE id = $1`, id))
	if err != nil {
		return domain.Token{}, notFound(err, "get token %d", id)
	}
	return t, nil
}

// GetTokenBySymbol returns the token with the given symbol.
func (s *CatalogStore) GetTokenBySymbol(ctx context.Context, symbol string) (domain.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM tokens WHERE symbol = $1`, symbol))
	if err != nil {
		return domain.Token{}, notFound(err, "get token %s", symbol)
	}
	return t, nil
}

const venueCols = `id, name, api_url, is_active`

func scanVenue(row pgx.Row) (domain.Venue, error) {
	var v domain.Venue
	err := row.Scan(&v.ID, &v.Name, &v.APIURL, &v.Active)
	return v, err
}

// ListVenues returns every venue row ordered by id.
func (s *CatalogStore) ListVenues(ctx context.Context) ([]domain.Venue, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+venueCols+` FROM dexes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list venues: %w", err)
	}
	defer rows.Close()

	var venues []domain.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan venue: %w", err)
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

// GetVenue returns the venue with the given id.
func (s *CatalogStore) GetVenue(ctx context.Context, id int64) (domain.Venue, error) {
	v, err := scanVenue(s.pool.QueryRow(ctx, `SELECT `+venueCols+` FROM dexes WHERE id = $1`, id))
	if err != nil {
		return domain.Venue{}, notFound(err, "get venue %d", id)
	}
	return v, nil
}

const walletCols = `id, user_id, name, address, is_active, encrypted_private_key`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.Address, &w.Active, &w.EncryptedPrivateKey)
	return w, err
}

// GetWallet returns the wallet with the given id.
func (s *CatalogStore) GetWallet(ctx context.Context, id int64) (domain.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx, `SELECT `+walletCols+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		return domain.Wallet{}, notFound(err, "get wallet %d", id)
	}
	return w, nil
}

// ListActiveWallets returns the user's active wallets, oldest first.
func (s *CatalogStore) ListActiveWallets(ctx context.Context, userID int64) ([]domain.Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE user_id = $1 AND is_active ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets for user %d: %w", userID, err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ListBalances returns every token balance held by the user's wallets.
func (s *CatalogStore) ListBalances(ctx context.Context, userID int64) ([]domain.TokenBalance, error) {
	const query = `
		SELECT b.wallet_id, b.token_id, b.balance
		FROM token_balances b
		JOIN wallets w ON w.id = b.wallet_id
		WHERE w.user_id = $1 AND b.balance > 0
		ORDER BY b.wallet_id, b.token_id`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances for user %d: %w", userID, err)
	}
	defer rows.Close()

	var balances []domain.TokenBalance
	for rows.Next() {
		var b domain.TokenBalance
		if err := rows.Scan(&b.WalletID, &b.TokenID, &b.Balance); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// notFound maps pgx.ErrNoRows onto domain.ErrNotFound and wraps everything
// else with the operation description.
func notFound(err error, format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

var _ domain.CatalogStore = (*CatalogStore)(nil)
