package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
)

// ArbService defines the methods the opportunity and trade handlers require.
type ArbService interface {
	ListOpportunities(ctx context.Context, status domain.OpportunityStatus, opts domain.ListOpts) ([]domain.Opportunity, error)
	GetOpportunity(ctx context.Context, id int64) (domain.Opportunity, error)
	Scan(ctx context.Context, userID int64) ([]domain.Opportunity, error)
	Execute(ctx context.Context, userID, oppID, walletID int64) executor.Outcome
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
	GetTrade(ctx context.Context, id int64) (domain.Trade, error)
	Performance(ctx context.Context, userID int64, from, to time.Time) ([]domain.PerformanceMetric, error)
}

// OpportunityHandler serves opportunity listing, scanning and execution.
type OpportunityHandler struct {
	arb    ArbService
	userID int64
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler acting for userID.
func NewOpportunityHandler(arb ArbService, userID int64, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{arb: arb, userID: userID, logger: logger}
}

type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// List returns opportunities in a status, active by default.
// GET /api/opportunities?status=active&limit=50
func (h *OpportunityHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.OpportunityStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.OpportunityActive
	}
	switch status {
	case domain.OpportunityActive, domain.OpportunityExecuting, domain.OpportunityCompleted,
		domain.OpportunityFailed, domain.OpportunityExpired:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	opps, err := h.arb.ListOpportunities(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list opportunities", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

// Get returns one opportunity.
// GET /api/opportunities/{id}
func (h *OpportunityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opp, err := h.arb.GetOpportunity(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to get opportunity", err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

// Scan runs one detection pass and returns what it found.
// POST /api/opportunities/scan
func (h *OpportunityHandler) Scan(w http.ResponseWriter, r *http.Request) {
	found, err := h.arb.Scan(r.Context(), h.userID)
	if err != nil {
		writeDomainError(w, r, h.logger, "scan failed", err)
		return
	}
	if found == nil {
		found = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: found})
}

type executeRequest struct {
	WalletID int64 `json:"wallet_id"`
}

// Execute runs the opportunity with the given wallet. The outcome is the
// body on success and failure alike.
// POST /api/opportunities/{id}/execute
func (h *OpportunityHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.WalletID <= 0 {
		writeError(w, http.StatusBadRequest, "wallet_id is required")
		return
	}

	out := h.arb.Execute(r.Context(), h.userID, id, req.WalletID)
	if out.Success {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, statusFor(out.ErrorKind), out)
}
