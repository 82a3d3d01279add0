package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// TradeHandler serves trade history and daily performance.
type TradeHandler struct {
	arb    ArbService
	userID int64
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(arb ArbService, userID int64, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{arb: arb, userID: userID, logger: logger}
}

// List returns trades, newest first.
// GET /api/trades?limit=50&since=2025-01-01
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	trades, err := h.arb.ListTrades(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// Get returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.arb.GetTrade(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to get trade", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Performance returns daily metrics, the last 30 days by default.
// GET /api/performance?from=2025-01-01&to=2025-01-31
func (h *TradeHandler) Performance(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	if t, ok := parseTime(r.URL.Query().Get("to")); ok {
		to = t
	}
	from := to.AddDate(0, 0, -30)
	if t, ok := parseTime(r.URL.Query().Get("from")); ok {
		from = t
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	metrics, err := h.arb.Performance(r.Context(), h.userID, from, to)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to load performance", err)
		return
	}
	if metrics == nil {
		metrics = []domain.PerformanceMetric{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}
