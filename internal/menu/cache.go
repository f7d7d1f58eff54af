package menu

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tillpoint/internal/domain"
)

// Snapshot is the serialized unit of menu caching: the resolved items plus
// the derived category list, keyed by restaurant id.
type Snapshot struct {
	Items      []domain.MenuItem `json:"items"`
	Categories []string          `json:"categories"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

// ErrCacheMiss means no snapshot exists for the restaurant.
var ErrCacheMiss = errors.New("menu: no cached snapshot")

// Cache persists the last good menu per restaurant.
type Cache interface {
	Load(ctx context.Context, restaurantID string) (Snapshot, error)
	Store(ctx context.Context, restaurantID string, snap Snapshot) error
}

// RedisCache keeps snapshots in redis so they survive till restarts.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: client, TTL: ttl}
}

func (c *RedisCache) key(restaurantID string) string {
	return "menu:" + restaurantID
}

func (c *RedisCache) Load(ctx context.Context, restaurantID string) (Snapshot, error) {
	raw, err := c.Client.Get(ctx, c.key(restaurantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrCacheMiss
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (c *RedisCache) Store(ctx context.Context, restaurantID string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.key(restaurantID), raw, c.TTL).Err()
}

var _ Cache = (*RedisCache)(nil)
