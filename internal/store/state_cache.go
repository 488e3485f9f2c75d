package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateCache keeps last-known device property state so a restarted adapter
// can report devices before the broker re-announces them.
type StateCache struct{ rdb *redis.Client }

func NewStateCache(rdb *redis.Client) *StateCache { return &StateCache{rdb: rdb} }

func key(id string) string { return "adapter:device:" + id }

func (c *StateCache) Set(ctx context.Context, id string, stateJSON []byte) error {
	return c.rdb.Set(ctx, key(id), stateJSON, 24*time.Hour).Err()
}

func (c *StateCache) Get(ctx context.Context, id string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (c *StateCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, key(id)).Err()
}

// List returns the ids of all cached devices.
func (c *StateCache) List(ctx context.Context) ([]string, error) {
	iter := c.rdb.Scan(ctx, 0, key("*"), 100).Iterator()
	var ids []string
	for iter.Next(ctx) {
		full := iter.Val()
		if !strings.HasPrefix(full, "adapter:device:") {
			continue
		}
		ids = append(ids, strings.TrimPrefix(full, "adapter:device:"))
	}
	return ids, iter.Err()
}
