package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. Each snapshot is a JSON
// string at "position:{managerID}" expiring after ttl, so a dead poller
// never leaves an old snapshot looking current.
type SnapshotCache struct {
	c   *Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A zero ttl selects one minute.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotCache{c: c, ttl: ttl}
}

func (sc *SnapshotCache) key(managerID string) string {
	return sc.c.Key("position", managerID)
}

// Set stores the snapshot.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.PositionSnapshot) error {
	id := snap.Position.ManagerID
	if id == "" {
		return nil
	}
	data, err := json.Marshal(encodeSnapshot(snap))
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", id, err)
	}
	if err := sc.c.rdb.Set(ctx, sc.key(id), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", id, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when nothing is cached.
func (sc *SnapshotCache) Get(ctx context.Context, managerID string) (domain.PositionSnapshot, error) {
	data, err := sc.c.rdb.Get(ctx, sc.key(managerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", managerID, err)
	}
	var j snapshotJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", managerID, err)
	}
	snap, err := decodeSnapshot(j)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("redis: %w", err)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, managerID string) error {
	if err := sc.c.rdb.Del(ctx, sc.key(managerID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", managerID, err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
