// ABOUTME: Redis-backed cache store using go-redis
// ABOUTME: Keeps a per-resource set of fingerprints so invalidation can delete by resource

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/finbot-gateway/internal/backend"
)

// RedisStore is a Store shared through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. Keys are namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(fp string) string {
	return r.prefix + "cache:" + fp
}

func (r *RedisStore) indexKey(resource string) string {
	return r.prefix + "cache:resource:" + resource
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, fp string) (backend.Response, bool, error) {
	data, err := r.client.Get(ctx, r.key(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return backend.Response{}, false, nil
	}
	if err != nil {
		return backend.Response{}, false, fmt.Errorf("redis get: %w", err)
	}

	var resp backend.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return backend.Response{}, false, fmt.Errorf("decoding cached response: %w", err)
	}
	return resp, true, nil
}

// Set implements Store. The resource index expires with the newest entry.
func (r *RedisStore) Set(ctx context.Context, fp, resource string, resp backend.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding cached response: %w", err)
	}

	idx := r.indexKey(resource)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(fp), data, ttl)
		pipe.SAdd(ctx, idx, fp)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate implements Store.
func (r *RedisStore) Invalidate(ctx context.Context, resource string) error {
	idx := r.indexKey(resource)
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, fp := range members {
		keys = append(keys, r.key(fp))
	}
	keys = append(keys, idx)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}
