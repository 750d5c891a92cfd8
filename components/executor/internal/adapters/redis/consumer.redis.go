// Package redis holds the executor's Redis adapter: the per-workspace
// dispatcher lock.
package redis

import (
	"context"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libRedis "github.com/LerianStudio/lib-commons/v2/commons/redis"
)

// LockRepository provides an interface for the workspace-scoped
// dispatcher mutex.
type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// RedisConsumerRepository is a Redis implementation of the lock
// repository.
type RedisConsumerRepository struct {
	conn *libRedis.RedisConnection
}

// NewConsumerRedis returns a new instance of RedisConsumerRepository
// using the given Redis connection.
func NewConsumerRedis(rc *libRedis.RedisConnection) *RedisConsumerRepository {
	r := &RedisConsumerRepository{
		conn: rc,
	}

	if _, err := rc.GetClient(context.Background()); err != nil {
		panic("Failed to connect on redis")
	}

	return r
}

// AcquireLock takes the mutex with SET NX and a TTL guarding against a
// crashed holder.
func (rr *RedisConsumerRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	client, err := rr.conn.GetClient(ctx)
	if err != nil {
		return false, err
	}

	acquired, err := client.SetNX(ctx, key, "locked", ttl).Result()
	if err != nil {
		logger.Errorf("Failed to acquire lock %s: %v", key, err)

		return false, err
	}

	return acquired, nil
}

// ReleaseLock drops the mutex.
func (rr *RedisConsumerRepository) ReleaseLock(ctx context.Context, key string) error {
	client, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	return client.Del(ctx, key).Err()
}
