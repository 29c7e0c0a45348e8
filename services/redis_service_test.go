package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisServiceFromClient(client), mr
}

func TestAcquireSyncLock_Exclusive(t *testing.T) {
	r, _ := newTestRedisService(t)
	ctx := context.Background()

	acquired, err := r.AcquireSyncLock(ctx, "runner-a")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = r.AcquireSyncLock(ctx, "runner-b")
	require.NoError(t, err)
	assert.False(t, acquired, "lock is exclusive while held")

	require.NoError(t, r.ReleaseSyncLock(ctx, "runner-a"))

	acquired, err = r.AcquireSyncLock(ctx, "runner-b")
	require.NoError(t, err)
	assert.True(t, acquired, "lock is free after owner release")
}

func TestReleaseSyncLock_IgnoresNonOwner(t *testing.T) {
	r, mr := newTestRedisService(t)
	ctx := context.Background()

	acquired, err := r.AcquireSyncLock(ctx, "runner-a")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, r.ReleaseSyncLock(ctx, "runner-b"))

	got, err := mr.Get(SyncLockKey)
	require.NoError(t, err)
	assert.Equal(t, "runner-a", got, "non-owner release must not drop the lock")
}

func TestReleaseSyncLock_ExpiredAndRetakenLockStaysPut(t *testing.T) {
	r, mr := newTestRedisService(t)
	ctx := context.Background()

	acquired, err := r.AcquireSyncLock(ctx, "runner-a")
	require.NoError(t, err)
	require.True(t, acquired)

	// runner-a's lock expires and runner-b takes over
	mr.FastForward(SyncLockTTL + time.Second)

	acquired, err = r.AcquireSyncLock(ctx, "runner-b")
	require.NoError(t, err)
	require.True(t, acquired)

	// the stale owner's release must not delete runner-b's lock
	require.NoError(t, r.ReleaseSyncLock(ctx, "runner-a"))

	got, err := mr.Get(SyncLockKey)
	require.NoError(t, err)
	assert.Equal(t, "runner-b", got)
}

func TestReleaseSyncLock_NoLockHeldIsNoOp(t *testing.T) {
	r, _ := newTestRedisService(t)

	require.NoError(t, r.ReleaseSyncLock(context.Background(), "runner-a"))
}

func TestPublishCycleStats(t *testing.T) {
	r, mr := newTestRedisService(t)

	stats := map[string]interface{}{"total_checked": 3, "errors": 1}
	require.NoError(t, r.PublishCycleStats(context.Background(), "2024-01-02T03:04:05Z", stats))

	raw, err := mr.Get(StatsKeyPrefix + "2024-01-02T03:04:05Z")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, float64(3), got["total_checked"])
	assert.Equal(t, float64(1), got["errors"])
}
