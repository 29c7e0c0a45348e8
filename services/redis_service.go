package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/redis/go-redis/v9"
)

const (
	SyncLockKey    = "statussync:lock"
	SyncLockTTL    = 15 * time.Minute
	StatsKeyPrefix = "statussync:stats:"
	StatsTTL       = 24 * time.Hour
)

// releaseLockScript deletes the lock only when the caller still owns it,
// in one atomic step on the server.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisService struct {
	client *redis.Client
}

func NewRedisService(host string, port int) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
	})
	return &RedisService{client: client}
}

// NewRedisServiceFromClient wraps an existing client. Used by tests.
func NewRedisServiceFromClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

// AcquireSyncLock takes the cycle lock so overlapping sync runs don't race.
// Returns false if another run holds it.
func (r *RedisService) AcquireSyncLock(ctx context.Context, owner string) (bool, error) {
	var acquired bool
	var finalErr error

	xray.Capture(ctx, "Redis.SetNX", func(ctx1 context.Context) error {
		ok, err := r.client.SetNX(ctx, SyncLockKey, owner, SyncLockTTL).Result()
		acquired = ok
		finalErr = err

		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.key", SyncLockKey)
			seg.AddMetadata("redis.operation", "SETNX")
			seg.AddMetadata("redis.lock_acquired", ok)
		}

		return err
	})

	return acquired, finalErr
}

// ReleaseSyncLock releases the cycle lock if this run still owns it.
func (r *RedisService) ReleaseSyncLock(ctx context.Context, owner string) error {
	var finalErr error

	xray.Capture(ctx, "Redis.Del", func(ctx1 context.Context) error {
		// compare-and-delete must be atomic: an expired-and-retaken lock
		// stays put even if this run's owner check raced the expiry
		deleted, err := releaseLockScript.Run(ctx, r.client, []string{SyncLockKey}, owner).Int()
		finalErr = err

		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.key", SyncLockKey)
			seg.AddMetadata("redis.operation", "EVAL")
			seg.AddMetadata("redis.lock_released", deleted == 1)
		}

		return err
	})

	return finalErr
}

// PublishCycleStats stores the stats of one sync cycle for monitoring callers.
func (r *RedisService) PublishCycleStats(ctx context.Context, cycleID string, stats interface{}) error {
	var err error

	xray.Capture(ctx, "Redis.Set", func(ctx1 context.Context) error {
		jsonData, marshalErr := json.Marshal(stats)
		if marshalErr != nil {
			err = marshalErr
			return marshalErr
		}

		key := StatsKeyPrefix + cycleID
		err = r.client.Set(ctx, key, string(jsonData), StatsTTL).Err()

		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.key", key)
			seg.AddMetadata("redis.operation", "SET")
		}

		return err
	})

	return err
}

// Ping checks Redis connection
func (r *RedisService) Ping(ctx context.Context) error {
	var err error
	xray.Capture(ctx, "Redis.Ping", func(ctx1 context.Context) error {
		err = r.client.Ping(ctx).Err()

		if seg := xray.GetSegment(ctx1); seg != nil {
			seg.AddMetadata("redis.operation", "PING")
		}

		return err
	})
	return err
}
