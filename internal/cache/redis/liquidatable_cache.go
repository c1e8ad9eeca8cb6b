package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// LiquidatableCache implements domain.LiquidatableCache.
//
// Key schema:
//
//	liquidatable:{poolID|all} - hash {data: JSON list, ts: unix ms}
//	liquidatable:index        - set of the keys above, for InvalidateAll
type LiquidatableCache struct {
	c   *Client
	ttl time.Duration
}

// NewLiquidatableCache creates a LiquidatableCache. A zero ttl selects two
// minutes.
func NewLiquidatableCache(c *Client, ttl time.Duration) *LiquidatableCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &LiquidatableCache{c: c, ttl: ttl}
}

func (lc *LiquidatableCache) key(poolID string) string {
	if poolID == "" {
		poolID = "all"
	}
	return lc.c.Key("liquidatable", poolID)
}

func (lc *LiquidatableCache) indexKey() string { return lc.c.Key("liquidatable", "index") }

// Set replaces the list for a pool filter.
func (lc *LiquidatableCache) Set(ctx context.Context, poolID string, positions []domain.LiquidatablePosition) error {
	data, err := json.Marshal(encodeLiquidatable(positions))
	if err != nil {
		return fmt.Errorf("redis: marshal liquidatable %s: %w", poolID, err)
	}
	key := lc.key(poolID)

	pipe := lc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "ts", strconv.FormatInt(time.Now().UnixMilli(), 10))
	pipe.Expire(ctx, key, lc.ttl)
	pipe.SAdd(ctx, lc.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set liquidatable %s: %w", poolID, err)
	}
	return nil
}

// Get returns the cached list and when it was stored, or domain.ErrNotFound.
func (lc *LiquidatableCache) Get(ctx context.Context, poolID string) ([]domain.LiquidatablePosition, time.Time, error) {
	vals, err := lc.c.rdb.HGetAll(ctx, lc.key(poolID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get liquidatable %s: %w", poolID, err)
	}
	data, ok := vals["data"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	ms, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse liquidatable ts %s: %w", poolID, err)
	}

	var raw []liquidatableJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: unmarshal liquidatable %s: %w", poolID, err)
	}
	out, err := decodeLiquidatable(raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: %w", err)
	}
	return out, time.UnixMilli(ms), nil
}

// InvalidateAll drops every cached list.
func (lc *LiquidatableCache) InvalidateAll(ctx context.Context) error {
	keys, err := lc.c.rdb.SMembers(ctx, lc.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis: list liquidatable keys: %w", err)
	}
	keys = append(keys, lc.indexKey())
	if err := lc.c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate liquidatable: %w", err)
	}
	return nil
}

var _ domain.LiquidatableCache = (*LiquidatableCache)(nil)
