package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FetchObjectID resolves a CRM object-type name to its object id.
type FetchObjectID func(ctx context.Context, typeName string) (string, error)

// TypeCache memoizes CRM object-type resolution per integration. It is an
// explicit object with its lifetime tied to the integration instance, not
// a package-level map: two integrations never share entries.
//
// When a redis client is provided entries are shared across processes with
// a TTL; the in-process map always backs it so a redis outage degrades to
// per-process memoization instead of failing lookups.
type TypeCache struct {
	workspaceID string
	rdb         *redis.Client
	ttl         time.Duration

	mu  sync.Mutex
	mem map[string]string
}

func NewTypeCache(workspaceID string, rdb *redis.Client, ttl time.Duration) *TypeCache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TypeCache{
		workspaceID: workspaceID,
		rdb:         rdb,
		ttl:         ttl,
		mem:         map[string]string{},
	}
}

func (c *TypeCache) redisKey(typeName string) string {
	return "objtype:" + c.workspaceID + ":" + typeName
}

// ObjectID returns the object id for typeName, fetching and memoizing on
// first use.
func (c *TypeCache) ObjectID(ctx context.Context, typeName string, fetch FetchObjectID) (string, error) {
	if typeName == "" {
		return "", ErrInvalidArgument
	}

	c.mu.Lock()
	if id, ok := c.mem[typeName]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if c.rdb != nil {
		if id, err := c.rdb.Get(ctx, c.redisKey(typeName)).Result(); err == nil && id != "" {
			c.remember(typeName, id)
			return id, nil
		} else if err != nil && !errors.Is(err, redis.Nil) && ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if fetch == nil {
		return "", ErrNotFound
	}
	id, err := fetch(ctx, typeName)
	if err != nil {
		return "", err
	}
	c.remember(typeName, id)
	if c.rdb != nil {
		// Best effort; a failed write just means a refetch later.
		_ = c.rdb.Set(ctx, c.redisKey(typeName), id, c.ttl).Err()
	}
	return id, nil
}

func (c *TypeCache) remember(typeName, id string) {
	c.mu.Lock()
	c.mem[typeName] = id
	c.mu.Unlock()
}
