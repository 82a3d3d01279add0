// Package engine owns the scan loop: detect, expire, and optionally select
// and execute one opportunity per tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/risk"
)

// Selection policies.
const (
	PolicyBestActive = "best_active"
	PolicyNone       = "none"
)

// Scanner detects and expires opportunities.
type Scanner interface {
	Scan(ctx context.Context, userID int64) ([]domain.Opportunity, error)
	ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Executor runs one opportunity.
type Executor interface {
	Execute(ctx context.Context, oppID, walletID int64) executor.Outcome
}

// Assessor scores one opportunity for a user.
type Assessor interface {
	AssessOpportunity(ctx context.Context, userID, oppID int64) risk.Assessment
}

// Config tunes the loop.
type Config struct {
	UserID       int64
	Interval     time.Duration
	ErrorBackoff time.Duration
	ExpireAfter  time.Duration
	Policy       string
	LockTTL      time.Duration
}

// Deps are the collaborators of a Controller. Locks may be nil.
type Deps struct {
	Scanner       Scanner
	Executor      Executor
	Risk          Assessor
	Settings      domain.SettingsStore
	Catalog       domain.CatalogStore
	Opportunities domain.OpportunityStore
	Locks         domain.LockManager
	Logger        *slog.Logger
}

// Controller starts and stops the scan loop. It is safe for concurrent use.
type Controller struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status domain.ControllerStatus
}

// NewController creates a stopped Controller.
func NewController(deps Deps, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBestActive
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Controller{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With(slog.String("component", "engine")),
		now:    time.Now,
		status: domain.ControllerStatus{UserID: cfg.UserID},
	}
}

// Start launches the loop. The loop is detached from ctx cancellation and
// runs until Stop. Starting a running controller is an invalid state.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Running {
		return fmt.Errorf("engine: already running: %w", domain.ErrInvalidState)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status.Running = true
	c.status.StartedAt = c.now().UTC()
	c.status.LastError = ""

	c.logger.InfoContext(ctx, "engine: started",
		slog.Int64("user_id", c.cfg.UserID),
		slog.Duration("interval", c.cfg.Interval),
		slog.String("policy", c.cfg.Policy),
	)
	go c.loop(loopCtx, c.done)
	return nil
}

// Stop signals the loop and waits for it to exit. A tick in progress is
// allowed to finish. Stopping a stopped controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("engine: stopped")
}

// Status returns a snapshot of the loop state.
func (c *Controller) Status() domain.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.status.Running = false
		c.mu.Unlock()
	}()

	// Stop is observed between ticks only. A tick in progress runs on a
	// context Stop cannot cancel, bounded by its own per-call timeouts.
	work := context.WithoutCancel(ctx)
	for {
		wait := c.cfg.Interval
		if err := c.Tick(work); err != nil {
			c.logger.ErrorContext(ctx, "engine: tick failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", c.cfg.ErrorBackoff),
			)
			wait = c.cfg.ErrorBackoff
		}

		if ctx.Err() != nil {
			return
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Tick runs one scan cycle under the per-user scan lock. A lock held by
// another process skips the cycle without error.
func (c *Controller) Tick(ctx context.Context) error {
	if c.deps.Locks != nil {
		unlock, err := c.deps.Locks.Acquire(ctx, fmt.Sprintf("scan:%d", c.cfg.UserID), c.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			c.logger.DebugContext(ctx, "engine: scan lock held elsewhere, skipping tick")
			return nil
		}
		if err != nil {
			return c.record(fmt.Errorf("engine: acquire scan lock: %w", err))
		}
		defer unlock()
	}

	found, err := c.deps.Scanner.Scan(ctx, c.cfg.UserID)
	c.mu.Lock()
	c.status.Scans++
	c.status.LastScanAt = c.now().UTC()
	c.status.Found += int64(len(found))
	c.mu.Unlock()
	if err != nil {
		return c.record(fmt.Errorf("engine: scan: %w", err))
	}

	if c.cfg.ExpireAfter > 0 {
		if _, err := c.deps.Scanner.ExpireStale(ctx, c.cfg.ExpireAfter); err != nil {
			return c.record(err)
		}
	}

	if c.cfg.Policy == PolicyBestActive {
		if err := c.autoExecute(ctx); err != nil {
			return c.record(err)
		}
	}
	return c.record(nil)
}

func (c *Controller) record(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.status.LastError = err.Error()
	} else {
		c.status.LastError = ""
	}
	return err
}

// autoExecute executes the widest-spread active opportunity that passes
// the risk verdict, if the user enabled auto execution.
func (c *Controller) autoExecute(ctx context.Context) error {
	ts, err := c.deps.Settings.Trading(ctx, c.cfg.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine: load trading settings: %w", err)
	}
	if !ts.AutoExecute {
		return nil
	}

	opp, ok, err := c.Select(ctx)
	if err != nil || !ok {
		return err
	}

	wallets, err := c.deps.Catalog.ListActiveWallets(ctx, c.cfg.UserID)
	if err != nil {
		return fmt.Errorf("engine: list wallets: %w", err)
	}
	if len(wallets) == 0 {
		return fmt.Errorf("engine: user %d has no active wallet: %w", c.cfg.UserID, domain.ErrConfiguration)
	}

	out := c.deps.Executor.Execute(ctx, opp.ID, wallets[0].ID)
	c.mu.Lock()
	c.status.Executed++
	c.mu.Unlock()
	if !out.Success {
		c.logger.WarnContext(ctx, "engine: auto execution failed",
			slog.Int64("opportunity_id", opp.ID),
			slog.String("kind", string(out.ErrorKind)),
			slog.String("error", out.Error),
		)
	}
	return nil
}

// Select applies the selection policy: the active opportunity with the
// widest spread among those the risk scorer allows.
func (c *Controller) Select(ctx context.Context) (domain.Opportunity, bool, error) {
	if c.cfg.Policy != PolicyBestActive {
		return domain.Opportunity{}, false, nil
	}
	active, err := c.deps.Opportunities.ListActive(ctx)
	if err != nil {
		return domain.Opportunity{}, false, fmt.Errorf("engine: list active: %w", err)
	}
	for _, opp := range active {
		a := c.deps.Risk.AssessOpportunity(ctx, c.cfg.UserID, opp.ID)
		if a.CanExecute {
			return opp, true, nil
		}
		c.logger.DebugContext(ctx, "engine: opportunity rejected by risk",
			slog.Int64("opportunity_id", opp.ID),
			slog.Int("score", a.Score),
		)
	}
	return domain.Opportunity{}, false, nil
}
