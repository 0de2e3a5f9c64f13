package vectorstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
	"github.com/openclaw/memcore/internal/vectorstore"
)

func testScope() models.Scope {
	return models.Scope{Tenant: "acme", User: "bob"}
}

func TestUpsertGet_RoundTripsAndDeepCopies(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	rec := models.MemoryRecord{ID: "rec-1", Scope: scope, Content: "hello", Tags: []string{"a"}}
	require.NoError(t, store.Upsert(ctx, scope, rec, []float32{1, 0, 0}))

	got, ok, err := store.Get(ctx, scope, "rec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)

	got.Tags[0] = "mutated"
	got2, _, _ := store.Get(ctx, scope, "rec-1")
	assert.Equal(t, "a", got2.Tags[0], "mutating a returned record must not affect stored state")
}

func TestGet_ScopedLookupMisses(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testScope(), models.MemoryRecord{ID: "rec-1", Scope: testScope()}, []float32{1, 0, 0}))

	_, ok, err := store.Get(ctx, models.Scope{Tenant: "acme", User: "carol"}, "rec-1")
	require.NoError(t, err)
	assert.False(t, ok, "a record must not be visible under a different scope")
}

func TestSearch_RanksByCosineSimilarityAndRespectsFilter(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: "close", Scope: scope, Status: models.StatusActive, Category: models.CategoryGeneric}, []float32{1, 0, 0}))
	require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: "far", Scope: scope, Status: models.StatusActive, Category: models.CategoryGeneric}, []float32{0, 1, 0}))
	require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: "deprecated", Scope: scope, Status: models.StatusDeprecated, Category: models.CategoryGeneric}, []float32{1, 0, 0}))

	hits, err := store.Search(ctx, scope, []float32{1, 0, 0}, 5, ports.VectorSearchFilter{Status: []models.Status{models.StatusActive}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close", hits[0].ID)
}

func TestList_PagesThroughFullScope(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: id, Scope: scope}, []float32{1}))
	}

	var all []models.MemoryRecord
	cursor := ""
	for {
		page, next, err := store.List(ctx, scope, cursor, 2)
		require.NoError(t, err)
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, all, 5)
}

func TestUpdateStatus_SetsStatusSupersededByAndUpdatedAt(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: "rec-1", Scope: scope, Status: models.StatusActive, Version: 1}, []float32{1}))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateStatus(ctx, scope, "rec-1", models.StatusDeprecated, "rec-2", 2, now))

	got, ok, err := store.Get(ctx, scope, "rec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusDeprecated, got.Status)
	assert.Equal(t, "rec-2", got.SupersededBy)
	assert.Equal(t, 2, got.Version)
	assert.True(t, now.Equal(got.UpdatedAt))
}

func TestUpdateStatus_ZeroVersionLeavesVersionUnchanged(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: "rec-1", Scope: scope, Status: models.StatusActive, Version: 3}, []float32{1}))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateStatus(ctx, scope, "rec-1", models.StatusExpired, "", 0, now))

	got, ok, err := store.Get(ctx, scope, "rec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Equal(t, 3, got.Version, "a zero newVersion must leave the stored version unchanged")
}

func TestUpdateAccessMetadata_IncrementsAccessCount(t *testing.T) {
	store := vectorstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.Upsert(ctx, scope, models.MemoryRecord{ID: "rec-1", Scope: scope}, []float32{1}))
	require.NoError(t, store.UpdateAccessMetadata(ctx, scope, "rec-1"))
	require.NoError(t, store.UpdateAccessMetadata(ctx, scope, "rec-1"))

	got, _, err := store.Get(ctx, scope, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
}
