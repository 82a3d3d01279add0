// Package executor runs the simulated buy-low/sell-high trade pair for an
// opportunity and records the outcome.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
	"github.com/alanyoungcy/dexarb/internal/simulation"
	"github.com/alanyoungcy/dexarb/internal/venue"
)

// Outcome reports an execution attempt as data. ErrorKind and Error are set
// only on failure.
type Outcome struct {
	Success   bool             `json:"success"`
	TradeID   int64            `json:"trade_id,omitempty"`
	Profit    decimal.Decimal  `json:"profit_usd"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// VenueLookup resolves a venue name to its client.
type VenueLookup interface {
	Get(name string) (venue.Client, error)
}

// KeyOpener decrypts a wallet's sealed private key.
type KeyOpener interface {
	Open(sealed string) (string, error)
}

// Config wires a Coordinator.
type Config struct {
	Catalog       domain.CatalogStore
	Settings      domain.SettingsStore
	Opportunities domain.OpportunityStore
	Executions    domain.ExecutionStore
	Venues        VenueLookup
	Simulator     simulation.Simulator
	Keys          KeyOpener
	Bus           domain.SignalBus
	Logger        *slog.Logger

	QuoteSymbol string
	// TradeFloor is the smallest trade size used regardless of the user's
	// min_trade_size.
	TradeFloor decimal.Decimal
	// Timeout bounds one attempt. Zero means no bound.
	Timeout time.Duration
}

// Coordinator executes opportunities. Each opportunity leaves active at
// most once; concurrent attempts on the same opportunity lose the status
// compare-and-set and are rejected without side effects.
type Coordinator struct {
	catalog  domain.CatalogStore
	settings domain.SettingsStore
	opps     domain.OpportunityStore
	execs    domain.ExecutionStore
	venues   VenueLookup
	sim      simulation.Simulator
	keys     KeyOpener
	bus      domain.SignalBus
	logger   *slog.Logger

	quoteSymbol string
	floor       decimal.Decimal
	timeout     time.Duration
	now         func() time.Time
	attempts    atomic.Int64
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		catalog:     cfg.Catalog,
		settings:    cfg.Settings,
		opps:        cfg.Opportunities,
		execs:       cfg.Executions,
		venues:      cfg.Venues,
		sim:         cfg.Simulator,
		keys:        cfg.Keys,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With(slog.String("component", "executor")),
		quoteSymbol: cfg.QuoteSymbol,
		floor:       cfg.TradeFloor,
		timeout:     cfg.Timeout,
		now:         time.Now,
	}
	if c.quoteSymbol == "" {
		c.quoteSymbol = "USDC"
	}
	if !c.floor.IsPositive() {
		c.floor = decimal.NewFromInt(100)
	}
	return c
}

// failure carries the message stored on the opportunity and the cause used
// to classify it.
type failure struct {
	msg   string
	cause error
}

func (f *failure) Error() string { return f.msg }
func (f *failure) Unwrap() error { return f.cause }

func failf(cause error, format string, args ...any) error {
	return &failure{msg: fmt.Sprintf(format, args...), cause: cause}
}

// Execute runs the full pipeline for oppID using walletID. It never returns
// an error: every failure is reported in the Outcome, and every attempt
// that won the status transition ends with the opportunity completed or
// failed, even if ctx is cancelled midway.
func (c *Coordinator) Execute(ctx context.Context, oppID, walletID int64) Outcome {
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := c.now()
	log := c.logger.With(slog.Int64("opportunity_id", oppID), slog.Int64("wallet_id", walletID))

	out := c.execute(ctx, log, oppID, walletID, start)

	result := "success"
	if !out.Success {
		result = string(out.ErrorKind)
	}
	metrics.Executions.WithLabelValues(result).Inc()
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	return out
}

func (c *Coordinator) execute(ctx context.Context, log *slog.Logger, oppID, walletID int64, start time.Time) Outcome {
	if err := c.opps.TransitionStatus(ctx, oppID, domain.OpportunityActive, domain.OpportunityExecuting); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			log.InfoContext(ctx, "executor: opportunity is not active")
			return Outcome{ErrorKind: domain.KindInvalidState, Error: "Opportunity is not active"}
		case errors.Is(err, domain.ErrNotFound):
			return Outcome{ErrorKind: domain.KindNotFound, Error: "Opportunity not found"}
		default:
			log.ErrorContext(ctx, "executor: claim opportunity failed", slog.String("error", err.Error()))
			return Outcome{ErrorKind: domain.KindOf(err), Error: err.Error()}
		}
	}

	trade, err := c.run(ctx, log, oppID, walletID, start)
	if err != nil {
		msg := err.Error()
		kind := domain.KindOf(err)
		if kind == domain.KindNone {
			kind = domain.KindInternal
		}
		log.WarnContext(ctx, "executor: execution failed",
			slog.String("kind", string(kind)),
			slog.String("error", msg),
		)
		if mErr := c.opps.MarkFailed(context.WithoutCancel(ctx), oppID, msg); mErr != nil {
			log.ErrorContext(ctx, "executor: mark failed", slog.String("error", mErr.Error()))
		}
		c.publish(ctx, domain.TradeEvent{Type: "trade_failed", OpportunityID: oppID, Error: msg})
		return Outcome{ErrorKind: kind, Error: msg}
	}

	log.InfoContext(ctx, "executor: execution completed",
		slog.Int64("trade_id", trade.ID),
		slog.String("amount", trade.Amount.String()),
		slog.String("profit", trade.RealizedProfit.String()),
		slog.Duration("took", time.Since(start)),
	)
	c.publish(ctx, domain.TradeEvent{
		Type:          "trade_completed",
		OpportunityID: oppID,
		Success:       true,
		TradeID:       trade.ID,
		Profit:        trade.RealizedProfit,
	})
	return Outcome{Success: true, TradeID: trade.ID, Profit: trade.RealizedProfit}
}

// plan is everything loaded before the first venue call.
type plan struct {
	opp      domain.Opportunity
	wallet   domain.Wallet
	token    domain.Token
	quote    domain.Token
	buy      domain.Venue
	sell     domain.Venue
	settings domain.TradingSettings
}

func (c *Coordinator) load(ctx context.Context, oppID, walletID int64) (plan, error) {
	var p plan
	var err error

	if p.opp, err = c.opps.GetByID(ctx, oppID); err != nil {
		return p, failf(err, "Opportunity not found")
	}
	if p.wallet, err = c.catalog.GetWallet(ctx, walletID); err != nil {
		return p, failf(err, "Wallet not found")
	}
	if p.token, err = c.catalog.GetToken(ctx, p.opp.TokenID); err != nil {
		return p, failf(err, "Token not found")
	}
	if p.buy, err = c.catalog.GetVenue(ctx, p.opp.BuyVenueID); err != nil {
		return p, failf(err, "DEX not found")
	}
	if p.sell, err = c.catalog.GetVenue(ctx, p.opp.SellVenueID); err != nil {
		return p, failf(err, "DEX not found")
	}
	if p.quote, err = c.catalog.GetTokenBySymbol(ctx, c.quoteSymbol); err != nil {
		return p, failf(err, "%s token not found", c.quoteSymbol)
	}

	if p.wallet.EncryptedPrivateKey != "" {
		if c.keys == nil {
			return p, failf(domain.ErrConfiguration, "Error decrypting private key")
		}
		if _, err := c.keys.Open(p.wallet.EncryptedPrivateKey); err != nil {
			return p, failf(fmt.Errorf("%w: %w", domain.ErrInternal, err), "Error decrypting private key")
		}
	}

	if p.settings, err = c.settings.Trading(ctx, p.wallet.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p, failf(fmt.Errorf("%w: %w", domain.ErrConfiguration, err), "Trading settings not found")
		}
		return p, failf(err, "Error loading trading settings: %v", err)
	}
	return p, nil
}

// swapBuilder returns the venue's swap capability, or nil when the venue is
// simulation-only.
func (c *Coordinator) swapBuilder(v domain.Venue) (venue.SwapBuilder, error) {
	client, err := c.venues.Get(v.Name)
	if err != nil {
		return nil, failf(err, "DEX %s is not configured", v.Name)
	}
	sb, _ := client.(venue.SwapBuilder)
	return sb, nil
}

// leg quotes and simulates one swap and returns its output in base units.
func (c *Coordinator) leg(ctx context.Context, side string, sb venue.SwapBuilder, req venue.SwapRequest) (int64, error) {
	swap, err := sb.BuildSwap(ctx, req)
	if err != nil {
		return 0, failf(err, "Failed to create %s transaction: %v", side, err)
	}
	if swap.Transaction != "" {
		res, err := c.sim.Simulate(ctx, swap.Transaction)
		if err != nil {
			return 0, failf(err, "%s transaction simulation failed: %v", capitalize(side), err)
		}
		if !res.OK {
			return 0, failf(domain.ErrUpstream, "%s transaction simulation failed: %s", capitalize(side), res.Reason)
		}
	}
	return swap.OutputAmount, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (c *Coordinator) run(ctx context.Context, log *slog.Logger, oppID, walletID int64, start time.Time) (domain.Trade, error) {
	p, err := c.load(ctx, oppID, walletID)
	if err != nil {
		return domain.Trade{}, err
	}

	size := decimal.Min(decimal.Max(p.settings.MinTradeSize, c.floor), p.settings.MaxTradeSize)
	bps := p.settings.SlippageBps()
	tokenAmount := decimal.Zero
	if p.opp.BuyPrice.IsPositive() {
		tokenAmount = size.Div(p.opp.BuyPrice)
	}

	log.InfoContext(ctx, "executor: executing",
		slog.String("token", p.token.Symbol),
		slog.String("buy_venue", p.buy.Name),
		slog.String("buy_price", p.opp.BuyPrice.String()),
		slog.String("sell_venue", p.sell.Name),
		slog.String("sell_price", p.opp.SellPrice.String()),
		slog.String("size", size.String()),
		slog.Int("slippage_bps", bps),
	)

	buySB, err := c.swapBuilder(p.buy)
	if err != nil {
		return domain.Trade{}, err
	}
	sellSB, err := c.swapBuilder(p.sell)
	if err != nil {
		return domain.Trade{}, err
	}

	swapped := false
	if buySB != nil {
		out, err := c.leg(ctx, "buy", buySB, venue.SwapRequest{
			InputMint:   p.quote.Mint,
			OutputMint:  p.token.Mint,
			Amount:      p.quote.BaseUnits(size),
			Payer:       p.wallet.Address,
			SlippageBps: bps,
		})
		if err != nil {
			return domain.Trade{}, err
		}
		tokenAmount = p.token.Scale(out)
		swapped = true
	}

	profit := decimal.Zero
	if swapped && sellSB != nil && tokenAmount.IsPositive() {
		out, err := c.leg(ctx, "sell", sellSB, venue.SwapRequest{
			InputMint:   p.token.Mint,
			OutputMint:  p.quote.Mint,
			Amount:      p.token.BaseUnits(tokenAmount),
			Payer:       p.wallet.Address,
			SlippageBps: bps,
		})
		if err != nil {
			return domain.Trade{}, err
		}
		profit = p.quote.Scale(out).Sub(size)
	}

	nonce := c.now().UnixNano() + c.attempts.Add(1)
	id := oppID
	finished := c.now()
	trade, err := c.execs.Complete(ctx, domain.ExecutionRecord{
		Trade: domain.Trade{
			OpportunityID:  &id,
			WalletID:       p.wallet.ID,
			TokenID:        p.token.ID,
			BuyVenueID:     p.buy.ID,
			SellVenueID:    p.sell.ID,
			BuyPrice:       p.opp.BuyPrice,
			SellPrice:      p.opp.SellPrice,
			Amount:         tokenAmount,
			RealizedProfit: profit,
			Status:         domain.TradeCompleted,
			BuyRef:         crypto.SyntheticRef("buy", oppID, p.wallet.Address, nonce),
			SellRef:        crypto.SyntheticRef("sell", oppID, p.wallet.Address, nonce),
		},
		UserID:         p.wallet.UserID,
		Day:            finished,
		ResponseTimeMs: float64(finished.Sub(start).Microseconds()) / 1000,
	})
	if err != nil {
		return domain.Trade{}, failf(err, "Error recording trade: %v", err)
	}
	return trade, nil
}

func (c *Coordinator) publish(ctx context.Context, evt domain.TradeEvent) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, domain.ChannelTrades, payload); err != nil {
		c.logger.WarnContext(ctx, "executor: publish failed",
			slog.Int64("opportunity_id", evt.OpportunityID),
			slog.String("error", err.Error()),
		)
	}
}
