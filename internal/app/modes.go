package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/metrics"
	"github.com/alanyoungcy/dexarb/internal/pipeline"
	"github.com/alanyoungcy/dexarb/internal/server"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

// decimalsRefresh is how often the mint decimals index is reloaded so venue
// clients see tokens added after startup.
const decimalsRefresh = 10 * time.Minute

// EngineMode runs the price feed and the scan loop without an HTTP surface.
// The loop starts immediately.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "app: starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeed(ctx, g, deps, c); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)
	if err := a.startController(ctx, g, c, true); err != nil {
		return err
	}
	return g.Wait()
}

// ServerMode serves the API and websocket. The scan loop runs only when
// started through the API or scanner.auto_start.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeed(ctx, g, deps, c); err != nil {
		return err
	}
	if err := a.startController(ctx, g, c, a.cfg.Scanner.AutoStart); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs everything: feed, scan loop, archiver and API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeed(ctx, g, deps, c); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)
	if err := a.startController(ctx, g, c, a.cfg.Scanner.AutoStart); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// startFeed seeds the aggregator from the catalog and polls it until ctx
// ends. It also keeps the decimals index fresh.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) error {
	if err := c.aggregator.Seed(ctx, deps.Catalog); err != nil {
		return fmt.Errorf("app: seed price feed: %w", err)
	}

	g.Go(func() error {
		err := c.aggregator.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("price feed: %w", err)
	})

	g.Go(func() error {
		t := time.NewTicker(decimalsRefresh)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if err := c.decimals.load(ctx, deps.Catalog); err != nil {
					a.logger.WarnContext(ctx, "app: decimals refresh failed", slog.String("error", err.Error()))
				}
			}
		}
	})
	return nil
}

// startController optionally starts the scan loop and always stops it on
// shutdown.
func (a *App) startController(ctx context.Context, g *errgroup.Group, c *core, start bool) error {
	if start {
		if err := c.controller.Start(ctx); err != nil {
			return fmt.Errorf("app: start controller: %w", err)
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		c.controller.Stop()
		return nil
	})
	return nil
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		err := arch.RunCron(ctx, a.cfg.Archive.Cron)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("archiver: %w", err)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "app: HTTP server disabled")
		return
	}

	userID := a.cfg.Scanner.UserID
	hub := ws.NewHub(c.aggregator, deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(deps.Checks, a.logger),
		Opportunities: handler.NewOpportunityHandler(c.arb, userID, a.logger),
		Trades:        handler.NewTradeHandler(c.arb, userID, a.logger),
		Risk:          handler.NewRiskHandler(c.risk, userID, a.logger),
		Prices:        handler.NewPriceHandler(c.prices, a.logger),
		Bot:           handler.NewBotHandler(c.controller, a.logger),
		Metrics:       metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
