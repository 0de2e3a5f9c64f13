package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/cachelock"
	"github.com/openclaw/memcore/internal/lifecycle"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
	"github.com/openclaw/memcore/internal/vectorstore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testScope() models.Scope {
	return models.Scope{Tenant: "acme", User: "bob"}
}

func TestRun_ExpiresPastRecordsAndPublishesEvent(t *testing.T) {
	vec := vectorstore.NewMockStore()
	pubsub := cachelock.NewLocalPubSub()
	events := pubsub.Subscribe()
	scope := testScope()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	expired := models.MemoryRecord{
		ID: "expired-1", Scope: scope, Content: "old status note", Category: models.CategoryStatus,
		Confidence: 8, Status: models.StatusActive, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	fresh := models.MemoryRecord{
		ID: "fresh-1", Scope: scope, Content: "current status note", Category: models.CategoryStatus,
		Confidence: 8, Status: models.StatusActive, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, vec.Upsert(context.Background(), scope, expired, []float32{1, 0}))
	require.NoError(t, vec.Upsert(context.Background(), scope, fresh, []float32{0, 1}))

	sweeper := lifecycle.NewSweeper(vec, pubsub, fixedClock{now}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := sweeper.Run(context.Background(), scope, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Expired)

	got, ok, err := vec.Get(context.Background(), scope, "expired-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusExpired, got.Status)

	still, ok, err := vec.Get(context.Background(), scope, "fresh-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusActive, still.Status)

	select {
	case ev := <-events:
		assert.Equal(t, ports.TopicMemoryExpired, ev.Topic)
		assert.Equal(t, "expired-1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a memory.expired event")
	}
}

func TestRun_DryRunDoesNotMutate(t *testing.T) {
	vec := vectorstore.NewMockStore()
	scope := testScope()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	expired := models.MemoryRecord{
		ID: "expired-1", Scope: scope, Content: "old note", Category: models.CategoryStatus,
		Confidence: 8, Status: models.StatusActive, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	require.NoError(t, vec.Upsert(context.Background(), scope, expired, []float32{1, 0}))

	sweeper := lifecycle.NewSweeper(vec, nil, fixedClock{now}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := sweeper.Run(context.Background(), scope, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	got, ok, err := vec.Get(context.Background(), scope, "expired-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestRun_NeverReactivatesAlreadyExpiredRecord(t *testing.T) {
	vec := vectorstore.NewMockStore()
	scope := testScope()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	rec := models.MemoryRecord{
		ID: "already-expired", Scope: scope, Content: "retired note", Category: models.CategoryStatus,
		Confidence: 8, Status: models.StatusExpired, CreatedAt: now.Add(-72 * time.Hour), UpdatedAt: now.Add(-24 * time.Hour),
		ExpiresAt: now.Add(-48 * time.Hour),
	}
	require.NoError(t, vec.Upsert(context.Background(), scope, rec, []float32{1, 0}))

	sweeper := lifecycle.NewSweeper(vec, nil, fixedClock{now}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := sweeper.Run(context.Background(), scope, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Expired)
}
