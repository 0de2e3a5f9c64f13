package cachelock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/ports"
)

func encodeEvent(event ports.Event) ([]byte, error) {
	return json.Marshal(event)
}

// withLock is the shared try-acquire/run/release convenience both
// RedisLockManager and LocalLockManager build WithLock on top of.
func withLock(ctx context.Context, lm ports.LockManager, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	holderID := fmt.Sprintf("%p-%d", &ctx, time.Now().UnixNano())
	ok, err := lm.TryAcquire(ctx, key, holderID, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.Contended, "with_lock", fmt.Errorf("lock %s held by another holder", key))
	}
	defer func() { _ = lm.Release(ctx, key, holderID) }()
	return fn(ctx)
}

type cacheEntry struct {
	value    []byte
	expireAt time.Time
}

// LocalCache is an in-process ports.Cache fallback, valid only for
// single-node deployments per §4.1's degrade rules.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewLocalCache() *LocalCache {
	return &LocalCache{entries: make(map[string]cacheEntry)}
}

func (c *LocalCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expireAt time.Time
	if ttl != 0 {
		expireAt = time.Now().Add(ttl)
	}
	c.entries[key] = cacheEntry{value: value, expireAt: expireAt}
	return nil
}

func (c *LocalCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// LocalPubSub is an in-process ports.PubSub fallback: it fans events out to
// any subscribed in-process channel, or simply drops them if nobody is
// listening (acceptable loss for single-node deployments).
type LocalPubSub struct {
	mu   sync.RWMutex
	subs []chan ports.Event
}

func NewLocalPubSub() *LocalPubSub { return &LocalPubSub{} }

func (p *LocalPubSub) Publish(ctx context.Context, topic string, event ports.Event) error {
	event.Topic = topic
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a channel for in-process test observation.
func (p *LocalPubSub) Subscribe() <-chan ports.Event {
	ch := make(chan ports.Event, 32)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

type localLock struct {
	holderID string
	expireAt time.Time
}

// LocalLockManager is an in-process ports.LockManager fallback, valid only
// for single-node deployments.
type LocalLockManager struct {
	mu    sync.Mutex
	locks map[string]localLock
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{locks: make(map[string]localLock)}
}

func (l *LocalLockManager) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	existing, ok := l.locks[key]
	if ok && existing.holderID != holderID && now.Before(existing.expireAt) {
		return false, nil
	}
	l.locks[key] = localLock{holderID: holderID, expireAt: now.Add(ttl)}
	return true, nil
}

func (l *LocalLockManager) Release(ctx context.Context, key, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.locks[key]; ok && existing.holderID == holderID {
		delete(l.locks, key)
	}
	return nil
}

func (l *LocalLockManager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return withLock(ctx, l, key, ttl, fn)
}

var (
	_ ports.Cache       = (*LocalCache)(nil)
	_ ports.PubSub      = (*LocalPubSub)(nil)
	_ ports.LockManager = (*LocalLockManager)(nil)
)
