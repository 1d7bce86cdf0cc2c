package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PermissionCache implements ports.PermissionCache using Redis. It stores
// each user's effective permission names as a JSON array under a
// per-user key.
type PermissionCache struct {
	client *goredis.Client
	prefix string
}

// NewPermissionCache creates a new Redis-backed permission cache.
func NewPermissionCache(client *goredis.Client) *PermissionCache {
	return &PermissionCache{
		client: client,
		prefix: "permissions:",
	}
}

// Get retrieves the cached permission set for a user.
// Returns nil, false on a cache miss.
func (c *PermissionCache) Get(ctx context.Context, userID uuid.UUID) ([]string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+userID.String()).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis permission get: %w", err)
	}

	var permissions []string
	if err := json.Unmarshal(val, &permissions); err != nil {
		return nil, false, fmt.Errorf("redis permission decode: %w", err)
	}
	return permissions, true, nil
}

// Set stores a user's permission set with TTL. An empty set is cached
// too, so users with no grants do not hit the database on every check.
func (c *PermissionCache) Set(ctx context.Context, userID uuid.UUID, permissions []string, ttl time.Duration) error {
	if permissions == nil {
		permissions = []string{}
	}
	val, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("redis permission encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+userID.String(), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis permission set: %w", err)
	}
	return nil
}

// Invalidate drops the cached set for a user. Called after any role or
// permission change that touches the user.
func (c *PermissionCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, c.prefix+userID.String()).Err(); err != nil {
		return fmt.Errorf("redis permission invalidate: %w", err)
	}
	return nil
}
