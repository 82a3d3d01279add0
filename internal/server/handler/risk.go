package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/risk"
)

// RiskService defines the methods the risk handler requires.
type RiskService interface {
	AssessOpportunity(ctx context.Context, userID, oppID int64) risk.Assessment
	AssessPortfolio(ctx context.Context, userID int64) (risk.Portfolio, error)
}

// RiskHandler serves risk assessments.
type RiskHandler struct {
	risk   RiskService
	userID int64
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(svc RiskService, userID int64, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: svc, userID: userID, logger: logger}
}

// Opportunity scores one opportunity. Assessment never fails; a missing
// opportunity scores maximum risk.
// GET /api/risk/opportunities/{id}
func (h *RiskHandler) Opportunity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.risk.AssessOpportunity(r.Context(), h.userID, id))
}

// Portfolio scores the user's holdings.
// GET /api/risk/portfolio
func (h *RiskHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.risk.AssessPortfolio(r.Context(), h.userID)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to assess portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
