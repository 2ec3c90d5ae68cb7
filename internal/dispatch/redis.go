package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachePrefix namespaces cached query results so CacheFlush can find them
// without touching unrelated keys.
const cachePrefix = "bikidata:cache:"

// RedisQueue implements Queue on Redis lists and keys.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue connects to the given host on the default port.
func NewRedisQueue(host string) *RedisQueue {
	return &RedisQueue{client: redis.NewClient(&redis.Options{Addr: host + ":6379"})}
}

// Close releases the client connection pool.
func (q *RedisQueue) Close() error { return q.client.Close() }

func (q *RedisQueue) Push(ctx context.Context, queue string, payload []byte) error {
	// RPUSH appends at the tail; BLPOP takes from the head, so lists are FIFO
	if err := q.client.RPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", queue, err)
	}
	return nil
}

func (q *RedisQueue) BLPop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPopTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", queue, err)
	}
	// res is [queue, value]
	return []byte(res[1]), nil
}

func (q *RedisQueue) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := q.client.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

func (q *RedisQueue) CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := q.client.Set(ctx, cachePrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (q *RedisQueue) CacheFlush(ctx context.Context) error {
	iter := q.client.Scan(ctx, 0, cachePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := q.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache flush: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	return nil
}
