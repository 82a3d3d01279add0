package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// LatestPrices is the in-process price view.
type LatestPrices interface {
	Latest(pair domain.Pair) (domain.PriceObservation, bool)
}

// PriceService answers price queries from the in-process aggregator and
// falls back to the shared cache, which another process may be filling.
type PriceService struct {
	local  LatestPrices
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewPriceService creates a PriceService. Either source may be nil.
func NewPriceService(local LatestPrices, cache domain.PriceCache, logger *slog.Logger) *PriceService {
	return &PriceService{
		local:  local,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// Latest returns the most recent observation for pair.
func (s *PriceService) Latest(ctx context.Context, pair domain.Pair) (domain.PriceObservation, error) {
	if !pair.Valid() {
		return domain.PriceObservation{}, fmt.Errorf("price_service: invalid pair %s: %w", pair, domain.ErrConfiguration)
	}
	if s.local != nil {
		if obs, ok := s.local.Latest(pair); ok {
			return obs, nil
		}
	}
	if s.cache != nil {
		obs, err := s.cache.GetPrice(ctx, pair)
		if err == nil {
			return obs, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "price_service: cache read failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return domain.PriceObservation{}, fmt.Errorf("price_service: no price for %s: %w", pair, domain.ErrNotFound)
}
