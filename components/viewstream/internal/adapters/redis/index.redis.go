// Package redis holds the per-change-set view index: the mapping from
// (kind, id) to the current checksum, plus the snapshot address the
// index was last built from.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libRedis "github.com/LerianStudio/lib-commons/v2/commons/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/weftworks/loom/pkg/mmodel"
)

// IndexRepository provides an interface for the per-change-set index.
type IndexRepository interface {
	GetIndex(ctx context.Context, workspaceID, changeSetID string) ([]mmodel.IndexEntry, error)
	SetIndex(ctx context.Context, workspaceID, changeSetID string, entries []mmodel.IndexEntry) error
	GetLastBuiltAddress(ctx context.Context, workspaceID, changeSetID string) (string, error)
	SetLastBuiltAddress(ctx context.Context, workspaceID, changeSetID, address string) error
}

// RedisIndexRepository is a Redis implementation of IndexRepository.
type RedisIndexRepository struct {
	conn *libRedis.RedisConnection
}

// NewIndexRedis returns a new instance of RedisIndexRepository using
// the given Redis connection.
func NewIndexRedis(rc *libRedis.RedisConnection) *RedisIndexRepository {
	r := &RedisIndexRepository{
		conn: rc,
	}

	if _, err := rc.GetClient(context.Background()); err != nil {
		panic("Failed to connect on redis")
	}

	return r
}

func indexKey(workspaceID, changeSetID string) string {
	return fmt.Sprintf("loom:mv:index:%s:%s", workspaceID, changeSetID)
}

func addressKey(workspaceID, changeSetID string) string {
	return fmt.Sprintf("loom:mv:address:%s:%s", workspaceID, changeSetID)
}

// GetIndex reads the current index; a missing key is an empty index.
func (rr *RedisIndexRepository) GetIndex(ctx context.Context, workspaceID, changeSetID string) ([]mmodel.IndexEntry, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	client, err := rr.conn.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := client.Get(ctx, indexKey(workspaceID, changeSetID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}

	if err != nil {
		logger.Errorf("Failed to read view index for %s: %v", changeSetID, err)

		return nil, err
	}

	var entries []mmodel.IndexEntry

	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// SetIndex replaces the index atomically.
func (rr *RedisIndexRepository) SetIndex(ctx context.Context, workspaceID, changeSetID string, entries []mmodel.IndexEntry) error {
	client, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	return client.Set(ctx, indexKey(workspaceID, changeSetID), raw, 0).Err()
}

// GetLastBuiltAddress returns the snapshot address of the last build,
// or empty when the change set has never been built.
func (rr *RedisIndexRepository) GetLastBuiltAddress(ctx context.Context, workspaceID, changeSetID string) (string, error) {
	client, err := rr.conn.GetClient(ctx)
	if err != nil {
		return "", err
	}

	address, err := client.Get(ctx, addressKey(workspaceID, changeSetID)).Result()
	if err == goredis.Nil {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return address, nil
}

// SetLastBuiltAddress records the snapshot address a build consumed.
func (rr *RedisIndexRepository) SetLastBuiltAddress(ctx context.Context, workspaceID, changeSetID, address string) error {
	client, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	return client.Set(ctx, addressKey(workspaceID, changeSetID), address, 0).Err()
}
