package domain

import (
	"context"
	"time"
)

// SnapshotCache shares the latest position snapshots between processes.
type SnapshotCache interface {
	Set(ctx context.Context, snap PositionSnapshot) error
	Get(ctx context.Context, managerID string) (PositionSnapshot, error)
	Invalidate(ctx context.Context, managerID string) error
}

// LiquidatableCache holds the last scanner result per pool filter. An empty
// pool id is the unfiltered list.
type LiquidatableCache interface {
	Set(ctx context.Context, poolID string, positions []LiquidatablePosition) error
	Get(ctx context.Context, poolID string) ([]LiquidatablePosition, time.Time, error)
	InvalidateAll(ctx context.Context) error
}

// BalanceCache holds wallet balances keyed by owner and coin type.
type BalanceCache interface {
	Set(ctx context.Context, owner, coinType string, amount float64) error
	Get(ctx context.Context, owner, coinType string) (float64, error)
	InvalidateOwner(ctx context.Context, owner string) error
}

// PoolCache provides fast pool metadata lookups.
type PoolCache interface {
	SetAll(ctx context.Context, pools []Pool) error
	Get(ctx context.Context, poolID string) (Pool, error)
	GetByKey(ctx context.Context, key string) (Pool, error)
	List(ctx context.Context) ([]Pool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Signal bus channels.
const (
	ChannelPositions    = "positions"
	ChannelLiquidations = "liquidations"
	ChannelActions      = "actions"
)
