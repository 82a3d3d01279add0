package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pair is
// stored at "[ns:]price:{base}:{quote}" with fields price, ts (Unix
// nanoseconds) and, when known, change.
type PriceCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires pairs that stop
// being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, rdb: c.rdb, ttl: ttl}
}

func (pc *PriceCache) priceKey(p domain.Pair) string {
	return pc.c.key("price", p.Base, p.Quote)
}

// SetPrice stores the observation, replacing any previous one.
func (pc *PriceCache) SetPrice(ctx context.Context, obs domain.PriceObservation) error {
	key := pc.priceKey(obs.Pair)
	fields := map[string]any{
		"price": obs.Price.String(),
		"ts":    strconv.FormatInt(obs.ObservedAt.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if obs.ChangePct != nil {
		fields["change"] = obs.ChangePct.String()
	}
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", obs.Pair, err)
	}
	return nil
}

// GetPrice returns the cached observation or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, pair domain.Pair) (domain.PriceObservation, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.priceKey(pair)).Result()
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	obs, err := decodeObservation(pair, vals)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	return obs, nil
}

// GetPrices fetches several pairs in one pipeline. Missing or unparsable
// pairs are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, pairs []domain.Pair) (map[domain.Pair]domain.PriceObservation, error) {
	result := make(map[domain.Pair]domain.PriceObservation, len(pairs))
	if len(pairs) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[domain.Pair]*redis.MapStringStringCmd, len(pairs))
	for _, p := range pairs {
		cmds[p] = pipe.HGetAll(ctx, pc.priceKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for p, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if obs, err := decodeObservation(p, vals); err == nil {
			result[p] = obs
		}
	}
	return result, nil
}

func decodeObservation(pair domain.Pair, vals map[string]string) (domain.PriceObservation, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceObservation{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("parse ts: %w", err)
	}

	obs := domain.PriceObservation{
		Pair:       pair,
		Price:      price,
		ObservedAt: time.Unix(0, tsNano).UTC(),
	}
	if c, ok := vals["change"]; ok {
		if change, err := decimal.NewFromString(c); err == nil {
			obs.ChangePct = &change
		}
	}
	return obs, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
