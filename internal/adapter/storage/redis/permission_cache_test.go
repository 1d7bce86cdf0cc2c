package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewPermissionCache(client)
	ctx := context.Background()

	userID := uuid.New()
	permissions := []string{"transfer funds", "refund transactions"}

	// Get before set => miss
	result, found, err := cache.Get(ctx, userID)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, result)

	err = cache.Set(ctx, userID, permissions, 5*time.Minute)
	require.NoError(t, err)

	result, found, err = cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, permissions, result)
}

func TestPermissionCache_EmptySetIsCached(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewPermissionCache(client)
	ctx := context.Background()

	userID := uuid.New()

	err := cache.Set(ctx, userID, nil, 5*time.Minute)
	require.NoError(t, err)

	result, found, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, found, "empty set should still count as a hit")
	assert.Empty(t, result)
}

func TestPermissionCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewPermissionCache(client)
	ctx := context.Background()

	userID := uuid.New()

	err := cache.Set(ctx, userID, []string{"view reports"}, 1*time.Second)
	require.NoError(t, err)

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	_, found, err := cache.Get(ctx, userID)
	assert.NoError(t, err)
	assert.False(t, found, "expired key should be a miss")
}

func TestPermissionCache_Invalidate(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewPermissionCache(client)
	ctx := context.Background()

	userID := uuid.New()

	err := cache.Set(ctx, userID, []string{"manage roles"}, 5*time.Minute)
	require.NoError(t, err)

	err = cache.Invalidate(ctx, userID)
	require.NoError(t, err)

	_, found, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPermissionCache_InvalidateMissingKey(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewPermissionCache(client)

	err := cache.Invalidate(context.Background(), uuid.New())
	assert.NoError(t, err)
}
