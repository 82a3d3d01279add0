package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the aggregator's latest observations for other
// processes.
type PriceCache interface {
	SetPrice(ctx context.Context, obs PriceObservation) error
	GetPrice(ctx context.Context, pair Pair) (PriceObservation, error)
	GetPrices(ctx context.Context, pairs []Pair) (map[Pair]PriceObservation, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
