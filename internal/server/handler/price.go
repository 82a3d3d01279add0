package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// PriceService defines the methods the price handler requires.
type PriceService interface {
	Latest(ctx context.Context, pair domain.Pair) (domain.PriceObservation, error)
}

// PriceHandler serves the latest aggregated price for a pair.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

// Latest returns the newest observation.
// GET /api/prices?base=<mint>&quote=<mint>
func (h *PriceHandler) Latest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair := domain.Pair{Base: q.Get("base"), Quote: q.Get("quote")}
	if !pair.Valid() {
		writeError(w, http.StatusBadRequest, "base and quote must be distinct mints")
		return
	}
	obs, err := h.prices.Latest(r.Context(), pair)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to get price", err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}
