package workingmem

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLists implements ListBackend on a shared Redis deployment.
type RedisLists struct {
	client *redis.Client
}

func NewRedisLists(client *redis.Client) *RedisLists {
	return &RedisLists{client: client}
}

var _ ListBackend = (*RedisLists)(nil)

func (r *RedisLists) Push(ctx context.Context, key string, value []byte) error {
	return r.client.RPush(ctx, key, value).Err()
}

func (r *RedisLists) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	raw, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(raw))
	for _, item := range raw {
		out = append(out, []byte(item))
	}
	return out, nil
}

func (r *RedisLists) Trim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *RedisLists) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *RedisLists) Len(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

// Replace runs DEL + RPUSH + EXPIRE inside a MULTI/EXEC transaction, so
// readers see either the old list or the new one, never anything between.
func (r *RedisLists) Replace(ctx context.Context, key string, values [][]byte, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, value := range values {
		pipe.RPush(ctx, key, value)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
