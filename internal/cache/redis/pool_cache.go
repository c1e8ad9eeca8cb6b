package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

const poolTTL = 10 * time.Minute

// PoolCache implements domain.PoolCache.
//
// Key schema:
//
//	pool:{id}       - JSON pool
//	pool:key:{key}  - pool id for a BASE_QUOTE key
//	pools           - set of pool ids
type PoolCache struct {
	c *Client
}

// NewPoolCache creates a PoolCache backed by the given Client.
func NewPoolCache(c *Client) *PoolCache {
	return &PoolCache{c: c}
}

func (pc *PoolCache) idKey(id string) string   { return pc.c.Key("pool", id) }
func (pc *PoolCache) keyKey(key string) string { return pc.c.Key("pool", "key", key) }
func (pc *PoolCache) setKey() string           { return pc.c.Key("pools") }

// SetAll replaces the cached pool list.
func (pc *PoolCache) SetAll(ctx context.Context, pools []domain.Pool) error {
	pipe := pc.c.rdb.TxPipeline()
	pipe.Del(ctx, pc.setKey())
	for _, p := range pools {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("redis: marshal pool %s: %w", p.PoolID, err)
		}
		pipe.Set(ctx, pc.idKey(p.PoolID), data, poolTTL)
		pipe.Set(ctx, pc.keyKey(p.Key()), p.PoolID, poolTTL)
		pipe.SAdd(ctx, pc.setKey(), p.PoolID)
	}
	pipe.Expire(ctx, pc.setKey(), poolTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set pools: %w", err)
	}
	return nil
}

// Get returns a pool by id or domain.ErrNotFound.
func (pc *PoolCache) Get(ctx context.Context, poolID string) (domain.Pool, error) {
	data, err := pc.c.rdb.Get(ctx, pc.idKey(poolID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool %s: %w", poolID, err)
	}
	var p domain.Pool
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %s: %w", poolID, err)
	}
	return p, nil
}

// GetByKey resolves a BASE_QUOTE key.
func (pc *PoolCache) GetByKey(ctx context.Context, key string) (domain.Pool, error) {
	id, err := pc.c.rdb.Get(ctx, pc.keyKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool key %s: %w", key, err)
	}
	return pc.Get(ctx, id)
}

// List returns every cached pool sorted by key. It returns
// domain.ErrNotFound when nothing is cached.
func (pc *PoolCache) List(ctx context.Context) ([]domain.Pool, error) {
	ids, err := pc.c.rdb.SMembers(ctx, pc.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list pools: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, pc.idKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list pools pipeline: %w", err)
	}

	pools := make([]domain.Pool, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var p domain.Pool
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Key() < pools[j].Key() })
	return pools, nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
