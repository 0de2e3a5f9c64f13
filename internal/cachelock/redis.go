// Package cachelock implements the ports.Cache, ports.PubSub and
// ports.LockManager contracts against Redis (SETNX/PX locks, TTL cache,
// pub/sub), plus in-process fallbacks for single-node deployments per the
// §4.1 degrade rules.
package cachelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/memcore/internal/ports"
)

// RedisCache implements ports.Cache.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache { return &RedisCache{client: client} }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// InvalidatePrefix scans and deletes every key under prefix. Redis has no
// native prefix-delete; SCAN is used instead of KEYS to avoid blocking the
// server on large keyspaces.
func (c *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning prefix %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting %d keys under %s: %w", len(keys), prefix, err)
	}
	return nil
}

// RedisPubSub implements ports.PubSub.
type RedisPubSub struct {
	client *redis.Client
}

func NewRedisPubSub(client *redis.Client) *RedisPubSub { return &RedisPubSub{client: client} }

func (p *RedisPubSub) Publish(ctx context.Context, topic string, event ports.Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("encoding event for topic %s: %w", topic, err)
	}
	if err := p.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// RedisLockManager implements ports.LockManager using SETNX with a PX
// (millisecond) expiry, the standard single-instance Redis lock pattern.
type RedisLockManager struct {
	client *redis.Client
}

func NewRedisLockManager(client *redis.Client) *RedisLockManager { return &RedisLockManager{client: client} }

func (l *RedisLockManager) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	// Re-entrant: the current holder may re-acquire its own lock.
	current, err := l.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("checking lock holder %s: %w", key, err)
	}
	return current == holderID, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (l *RedisLockManager) Release(ctx context.Context, key, holderID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, holderID).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", key, err)
	}
	return nil
}

func (l *RedisLockManager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return withLock(ctx, l, key, ttl, fn)
}

var (
	_ ports.Cache       = (*RedisCache)(nil)
	_ ports.PubSub      = (*RedisPubSub)(nil)
	_ ports.LockManager = (*RedisLockManager)(nil)
)
