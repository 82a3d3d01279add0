package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/risk"
)

// Scanner runs one detection pass for a user.
type Scanner interface {
	Scan(ctx context.Context, userID int64) ([]domain.Opportunity, error)
}

// Executor runs one opportunity against a wallet.
type Executor interface {
	Execute(ctx context.Context, oppID, walletID int64) executor.Outcome
}

// Assessor scores an opportunity for a user.
type Assessor interface {
	AssessOpportunity(ctx context.Context, userID, oppID int64) risk.Assessment
}

// ArbService is the read/command facade the HTTP layer uses for
// opportunities, executions and trades.
type ArbService struct {
	scanner Scanner
	exec    Executor
	opps    domain.OpportunityStore
	trades  domain.TradeStore
	perf    domain.PerformanceStore
	audit   domain.AuditStore
	gate    Assessor
	logger  *slog.Logger
}

// NewArbService creates an ArbService with all required dependencies.
func NewArbService(
	scanner Scanner,
	exec Executor,
	opps domain.OpportunityStore,
	trades domain.TradeStore,
	perf domain.PerformanceStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArbService {
	return &ArbService{
		scanner: scanner,
		exec:    exec,
		opps:    opps,
		trades:  trades,
		perf:    perf,
		audit:   audit,
		logger:  logger.With(slog.String("component", "arb_service")),
	}
}

// WithRiskGate makes Execute refuse opportunities the assessor marks as
// not executable.
func (s *ArbService) WithRiskGate(a Assessor) *ArbService {
	s.gate = a
	return s
}

// ListOpportunities lists opportunities in a status. Active opportunities
// are ordered by spread, widest first.
func (s *ArbService) ListOpportunities(ctx context.Context, status domain.OpportunityStatus, opts domain.ListOpts) ([]domain.Opportunity, error) {
	if status == domain.OpportunityActive && opts.Offset == 0 {
		opps, err := s.opps.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("arb_service: list active: %w", err)
		}
		if opts.Limit > 0 && len(opps) > opts.Limit {
			opps = opps[:opts.Limit]
		}
		return opps, nil
	}
	opps, err := s.opps.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list %s: %w", status, err)
	}
	return opps, nil
}

// GetOpportunity returns one opportunity.
func (s *ArbService) GetOpportunity(ctx context.Context, id int64) (domain.Opportunity, error) {
	opp, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("arb_service: get opportunity %d: %w", id, err)
	}
	return opp, nil
}

// Scan runs one detection pass on demand.
func (s *ArbService) Scan(ctx context.Context, userID int64) ([]domain.Opportunity, error) {
	found, err := s.scanner.Scan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("arb_service: scan: %w", err)
	}
	return found, nil
}

// Execute runs an opportunity and records the attempt in the audit log.
func (s *ArbService) Execute(ctx context.Context, userID, oppID, walletID int64) executor.Outcome {
	var out executor.Outcome
	if a, ok := s.refused(ctx, userID, oppID); ok {
		out = executor.Outcome{
			ErrorKind: domain.KindInvalidState,
			Error:     fmt.Sprintf("Risk check failed (score %d): %s", a.Score, a.Recommendation),
		}
	} else {
		out = s.exec.Execute(ctx, oppID, walletID)
	}

	detail := map[string]any{
		"user_id":        userID,
		"opportunity_id": oppID,
		"wallet_id":      walletID,
		"success":        out.Success,
	}
	if out.Success {
		detail["trade_id"] = out.TradeID
		detail["profit"] = out.Profit.String()
	} else {
		detail["error"] = out.Error
	}
	if err := s.audit.Log(context.WithoutCancel(ctx), "execution.manual", detail); err != nil {
		s.logger.WarnContext(ctx, "arb_service: audit log failed", slog.String("error", err.Error()))
	}
	return out
}

func (s *ArbService) refused(ctx context.Context, userID, oppID int64) (risk.Assessment, bool) {
	if s.gate == nil {
		return risk.Assessment{}, false
	}
	a := s.gate.AssessOpportunity(ctx, userID, oppID)
	return a, !a.CanExecute
}

// ListTrades lists trades, newest first.
func (s *ArbService) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list trades: %w", err)
	}
	return trades, nil
}

// GetTrade returns one trade.
func (s *ArbService) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("arb_service: get trade %d: %w", id, err)
	}
	return t, nil
}

// Performance returns the user's daily metrics between from and to
// inclusive.
func (s *ArbService) Performance(ctx context.Context, userID int64, from, to time.Time) ([]domain.PerformanceMetric, error) {
	m, err := s.perf.ListRange(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("arb_service: performance: %w", err)
	}
	return m, nil
}
