package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// BalanceCache implements domain.BalanceCache with one hash per owner at
// "balance:{owner}", field = coin type, value = whole-unit amount. The hash
// expires as a unit so an owner's balances are dropped together.
type BalanceCache struct {
	c   *Client
	ttl time.Duration
}

// NewBalanceCache creates a BalanceCache. A zero ttl selects 30 seconds.
func NewBalanceCache(c *Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{c: c, ttl: ttl}
}

func (bc *BalanceCache) key(owner string) string { return bc.c.Key("balance", owner) }

// Set stores one balance.
func (bc *BalanceCache) Set(ctx context.Context, owner, coinType string, amount float64) error {
	key := bc.key(owner)
	pipe := bc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, coinType, strconv.FormatFloat(amount, 'f', -1, 64))
	pipe.Expire(ctx, key, bc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set balance %s/%s: %w", owner, coinType, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the balance is not cached.
func (bc *BalanceCache) Get(ctx context.Context, owner, coinType string) (float64, error) {
	s, err := bc.c.rdb.HGet(ctx, bc.key(owner), coinType).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get balance %s/%s: %w", owner, coinType, err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse balance %s/%s: %w", owner, coinType, err)
	}
	return v, nil
}

// InvalidateOwner drops every balance of owner.
func (bc *BalanceCache) InvalidateOwner(ctx context.Context, owner string) error {
	if err := bc.c.rdb.Del(ctx, bc.key(owner)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate balances %s: %w", owner, err)
	}
	return nil
}

var _ domain.BalanceCache = (*BalanceCache)(nil)
