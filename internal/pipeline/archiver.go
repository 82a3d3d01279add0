// Package pipeline runs scheduled maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// DefaultSchedule runs at 03:00 on the first of every month.
const DefaultSchedule = "0 3 1 * *"

// Archiver moves terminal opportunities and trades older than the retention
// window to cold storage.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "archiver: starting run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	opps, err := a.blob.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive opportunities before %v: %w", cutoff, err)
	}
	trades, err := a.blob.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive trades before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int64("opportunities_archived", opps),
		slog.Int64("trades_archived", trades),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule until ctx is
// cancelled. Failed runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
		}
	}))

	a.logger.InfoContext(ctx, "archiver: cron started",
		slog.String("cron", spec),
		slog.Time("next_run", sched.Next(a.now().UTC())),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver: cron stopped")
	return ctx.Err()
}
