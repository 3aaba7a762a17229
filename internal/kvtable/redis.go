package kvtable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "unison:"

// redisAPI is the subset of *redis.Client used by RedisTable.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisTable stores payloads as plain Redis strings without expiry.
type RedisTable struct {
	client redisAPI
}

// NewRedisTable wraps a Redis client.
func NewRedisTable(client redisAPI) (*RedisTable, error) {
	if client == nil {
		return nil, errors.New("kvtable: redis client must not be nil")
	}
	return &RedisTable{client: client}, nil
}

// redisKey builds "unison:<kind>:<partition>" and appends the sort part
// after an ASCII unit separator, which Validate forbids inside parts.
func redisKey(key Key) string {
	k := redisKeyPrefix + string(key.Kind) + ":" + key.Partition
	if key.Sort != "" {
		k += "\x1f" + key.Sort
	}
	return k
}

// Get implements Table.
func (t *RedisTable) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	val, err := t.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return val, nil
}

// Put implements Table.
func (t *RedisTable) Put(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := t.client.Set(ctx, redisKey(key), value, 0).Err(); err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

// Delete implements Table.
func (t *RedisTable) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	n, err := t.client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return unavailable("delete", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Table.
func (t *RedisTable) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kvtable: ping: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close implements Table.
func (t *RedisTable) Close() error {
	return t.client.Close()
}
