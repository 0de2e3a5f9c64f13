package cachelock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/cachelock"
	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/ports"
)

func TestLocalCache_SetGetRoundTrip(t *testing.T) {
	c := cachelock.NewLocalCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	val, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
}

func TestLocalCache_ExpiresAfterTTL(t *testing.T) {
	c := cachelock.NewLocalCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), -time.Second))
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "already-expired entry must not be returned")
}

func TestLocalCache_InvalidatePrefixOnlyRemovesMatching(t *testing.T) {
	c := cachelock.NewLocalCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "mem:v1:scopeA:search:1", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "mem:v1:scopeB:search:1", []byte("b"), time.Minute))

	require.NoError(t, c.InvalidatePrefix(ctx, "mem:v1:scopeA:"))

	_, okA, _ := c.Get(ctx, "mem:v1:scopeA:search:1")
	_, okB, _ := c.Get(ctx, "mem:v1:scopeB:search:1")
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestLocalPubSub_DeliversToSubscribers(t *testing.T) {
	p := cachelock.NewLocalPubSub()
	ch := p.Subscribe()

	require.NoError(t, p.Publish(context.Background(), ports.TopicMemoryCreated, ports.Event{ID: "rec-1"}))

	select {
	case event := <-ch:
		assert.Equal(t, "rec-1", event.ID)
		assert.Equal(t, ports.TopicMemoryCreated, event.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered to subscriber")
	}
}

func TestLocalPubSub_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	p := cachelock.NewLocalPubSub()
	done := make(chan struct{})
	go func() {
		_ = p.Publish(context.Background(), ports.TopicMemoryCreated, ports.Event{ID: "rec-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish with no subscribers must not block")
	}
}

func TestLocalLockManager_SecondAcquireContendsUntilReleased(t *testing.T) {
	lm := cachelock.NewLocalLockManager()
	ctx := context.Background()

	ok1, err := lm.TryAcquire(ctx, "lock:a", "holder-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := lm.TryAcquire(ctx, "lock:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2, "lock already held by a different holder must not be re-acquirable")

	require.NoError(t, lm.Release(ctx, "lock:a", "holder-1"))

	ok3, err := lm.TryAcquire(ctx, "lock:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3, "lock must be acquirable again after release")
}

func TestLocalLockManager_WithLockRunsFnThenReleases(t *testing.T) {
	lm := cachelock.NewLocalLockManager()
	ctx := context.Background()

	ran := false
	err := lm.WithLock(ctx, "lock:b", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	ok, err := lm.TryAcquire(ctx, "lock:b", "someone-else", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released once WithLock's fn returns")
}

func TestLocalLockManager_WithLockPropagatesContendedKind(t *testing.T) {
	lm := cachelock.NewLocalLockManager()
	ctx := context.Background()

	ok, err := lm.TryAcquire(ctx, "lock:d", "holder-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	withLockErr := lm.WithLock(ctx, "lock:d", time.Minute, func(ctx context.Context) error {
		t.Fatal("fn must not run when the lock is already held by another holder")
		return nil
	})
	require.Error(t, withLockErr)
	assert.True(t, errs.Is(withLockErr, errs.Contended))
}
