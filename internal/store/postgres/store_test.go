package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

var (
	containerOnce sync.Once
	container     testcontainers.Container
	containerDSN  string
	containerErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("could not stop postgres container: %s", err)
		}
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "dexarb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	container = c

	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://testuser:testpassword@%s:%s/dexarb?sslmode=disable", host, port.Port()), nil
}

// testClient returns a migrated client on an emptied database.
func testClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	containerOnce.Do(func() {
		containerDSN, containerErr = startPostgres(ctx)
	})
	require.NoError(t, containerErr)

	client, err := New(ctx, ClientConfig{DSN: containerDSN, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	_, err = client.Pool().Exec(ctx, `TRUNCATE audit_log, performance_metrics, trades, opportunities,
		settings, token_balances, wallets, dexes, tokens, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return client
}

type fixture struct {
	userID, walletID, solID, usdcID, jupiterID, raydiumID int64
}

func seed(t *testing.T, c *Client) fixture {
	t.Helper()
	ctx := context.Background()
	pool := c.Pool()
	var f fixture

	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (username) VALUES ('alice') RETURNING id`).Scan(&f.userID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO tokens (symbol, name, mint_address, decimals) VALUES ('USDC', 'USD Coin', 'usdc-mint', 6) RETURNING id`).Scan(&f.usdcID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO tokens (symbol, name, mint_address, decimals) VALUES ('SOL', 'Solana', 'sol-mint', 9) RETURNING id`).Scan(&f.solID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO dexes (name) VALUES ('jupiter') RETURNING id`).Scan(&f.jupiterID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO dexes (name) VALUES ('raydium') RETURNING id`).Scan(&f.raydiumID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO wallets (user_id, name, address) VALUES ($1, 'main', 'wallet-addr') RETURNING id`, f.userID).Scan(&f.walletID))
	return f
}

func newOpportunity(f fixture) domain.Opportunity {
	return domain.Opportunity{
		TokenID:     f.solID,
		BuyVenueID:  f.raydiumID,
		SellVenueID: f.jupiterID,
		BuyPrice:    decimal.RequireFromString("99.5"),
		SellPrice:   decimal.RequireFromString("100.25"),
		SpreadPct:   decimal.RequireFromString("0.7537688442"),
		EstProfit:   decimal.RequireFromString("0.75"),
	}
}

func TestRunMigrationsConcurrentStartersApplyOnce(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.RunMigrations(ctx)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, c.Pool().QueryRow(ctx, `SELECT count(*) FROM schema_migrations WHERE filename = '001_init.sql'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpportunityCreateAndGet(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	store := NewOpportunityStore(c.Pool())
	ctx := context.Background()

	created, err := store.Create(ctx, newOpportunity(f))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, domain.OpportunityActive, created.Status)

	got, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.BuyPrice.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, got.SpreadPct.Equal(created.SpreadPct))

	_, err = store.GetByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestOpportunityTransitionIsCompareAndSet(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	store := NewOpportunityStore(c.Pool())
	ctx := context.Background()

	opp, err := store.Create(ctx, newOpportunity(f))
	require.NoError(t, err)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.TransitionStatus(ctx, opp.ID, domain.OpportunityActive, domain.OpportunityExecuting)
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}
	assert.Equal(t, 1, won)

	err = store.TransitionStatus(ctx, opp.ID+100, domain.OpportunityActive, domain.OpportunityExecuting)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpportunityMarkFailedRequiresExecuting(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	store := NewOpportunityStore(c.Pool())
	ctx := context.Background()

	opp, err := store.Create(ctx, newOpportunity(f))
	require.NoError(t, err)

	assert.ErrorIs(t, store.MarkFailed(ctx, opp.ID, "boom"), domain.ErrInvalidState)

	require.NoError(t, store.TransitionStatus(ctx, opp.ID, domain.OpportunityActive, domain.OpportunityExecuting))
	require.NoError(t, store.MarkFailed(ctx, opp.ID, "Buy transaction simulation failed: slippage"))

	got, err := store.GetByID(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityFailed, got.Status)
	assert.Equal(t, "Buy transaction simulation failed: slippage", got.ErrorMessage)
}

func TestOpportunityExpireBefore(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	store := NewOpportunityStore(c.Pool())
	ctx := context.Background()

	old, err := store.Create(ctx, newOpportunity(f))
	require.NoError(t, err)
	_, err = c.Pool().Exec(ctx, `UPDATE opportunities SET created_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, old.ID)
	require.NoError(t, err)
	fresh, err := store.Create(ctx, newOpportunity(f))
	require.NoError(t, err)

	n, err := store.ExpireBefore(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityExpired, got.Status)
	got, err = store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityActive, got.Status)
}

func completeFor(t *testing.T, c *Client, f fixture, profit string) domain.Trade {
	t.Helper()
	ctx := context.Background()
	opps := NewOpportunityStore(c.Pool())
	opp, err := opps.Create(ctx, newOpportunity(f))
	require.NoError(t, err)
	require.NoError(t, opps.TransitionStatus(ctx, opp.ID, domain.OpportunityActive, domain.OpportunityExecuting))

	id := opp.ID
	trade, err := NewExecutionStore(c.Pool()).Complete(ctx, domain.ExecutionRecord{
		Trade: domain.Trade{
			OpportunityID:  &id,
			WalletID:       f.walletID,
			TokenID:        f.solID,
			BuyVenueID:     f.raydiumID,
			SellVenueID:    f.jupiterID,
			BuyPrice:       opp.BuyPrice,
			SellPrice:      opp.SellPrice,
			Amount:         decimal.NewFromInt(1),
			RealizedProfit: decimal.RequireFromString(profit),
			Status:         domain.TradeCompleted,
			BuyRef:         "buy-ref",
			SellRef:        "sell-ref",
		},
		UserID:         f.userID,
		Day:            time.Now(),
		ResponseTimeMs: 200,
	})
	require.NoError(t, err)
	return trade
}

func TestExecutionCompleteUpsertsDailyPerformance(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	ctx := context.Background()

	first := completeFor(t, c, f, "1.25")
	completeFor(t, c, f, "0.50")

	got, err := NewTradeStore(c.Pool()).GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCompleted, got.Status)
	require.NotNil(t, got.OpportunityID)

	opp, err := NewOpportunityStore(c.Pool()).GetByID(ctx, *got.OpportunityID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityCompleted, opp.Status)

	m, err := NewPerformanceStore(c.Pool()).Get(ctx, f.userID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, m.TradesCount)
	assert.Equal(t, 1, m.OpportunitiesCount)
	assert.True(t, m.Profit.Equal(decimal.RequireFromString("1.75")), "profit %s", m.Profit)
	assert.InDelta(t, 200.0, m.AvgResponseTimeMs, 0.001)
}

func TestExecutionCompleteRollsBackWhenNotExecuting(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	ctx := context.Background()

	opp, err := NewOpportunityStore(c.Pool()).Create(ctx, newOpportunity(f))
	require.NoError(t, err)

	id := opp.ID
	_, err = NewExecutionStore(c.Pool()).Complete(ctx, domain.ExecutionRecord{
		Trade: domain.Trade{
			OpportunityID: &id, WalletID: f.walletID, TokenID: f.solID,
			BuyVenueID: f.raydiumID, SellVenueID: f.jupiterID,
			Status: domain.TradeCompleted,
		},
		UserID: f.userID,
		Day:    time.Now(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	trades, err := NewTradeStore(c.Pool()).List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, trades)

	_, err = NewPerformanceStore(c.Pool()).Get(ctx, f.userID, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettingsTradingAppliesDefaults(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	store := NewSettingsStore(c.Pool())
	ctx := context.Background()

	_, err := store.Trading(ctx, f.userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Put(ctx, f.userID, domain.SettingsTrading, map[string]any{
		"min_profit_threshold": 0.5,
		"auto_execute":         true,
	}))
	require.NoError(t, store.Put(ctx, f.userID, domain.SettingsVenues, map[string]bool{
		"jupiter": true, "raydium": true, "orca": false,
	}))

	ts, err := store.Trading(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, ts.MinProfitThreshold.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, ts.MaxTradeSize.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 5, ts.RiskLevel)
	assert.True(t, ts.AutoExecute)

	vs, err := store.Venues(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"jupiter", "raydium"}, vs.ActiveNames())
}

func TestCatalogLookups(t *testing.T) {
	c := testClient(t)
	f := seed(t, c)
	store := NewCatalogStore(c.Pool())
	ctx := context.Background()

	usdc, err := store.GetTokenBySymbol(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, f.usdcID, usdc.ID)
	assert.Equal(t, int32(6), usdc.Decimals)

	wallets, err := store.ListActiveWallets(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "wallet-addr", wallets[0].Address)

	_, err = store.GetVenue(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Pool().Exec(ctx, `INSERT INTO token_balances (wallet_id, token_id, balance) VALUES ($1, $2, 12.5)`, f.walletID, f.solID)
	require.NoError(t, err)
	balances, err := store.ListBalances(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Balance.Equal(decimal.RequireFromString("12.5")))
}
