package graphstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/graphstore"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

func testScope() models.Scope {
	return models.Scope{Tenant: "acme", User: "bob"}
}

func TestMergeRelation_NeighborhoodFindsRecordWithinHops(t *testing.T) {
	store := graphstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "alice", Type: "leads", Dst: "gamma"}, "rec-1"))

	ids, err := store.Neighborhood(ctx, scope, "alice", 1)
	require.NoError(t, err)
	assert.Contains(t, ids, "rec-1")
}

func TestNeighborhood_ScopeIsolated(t *testing.T) {
	store := graphstore.NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.MergeRelation(ctx, models.Scope{Tenant: "acme", User: "bob"}, models.Relation{Src: "alice", Type: "leads", Dst: "gamma"}, "rec-1"))

	ids, err := store.Neighborhood(ctx, models.Scope{Tenant: "acme", User: "carol"}, "alice", 1)
	require.NoError(t, err)
	assert.Empty(t, ids, "a relation merged under one scope must not leak into another scope's neighborhood")
}

func TestDetachRecord_RemovesItsEdgesOnly(t *testing.T) {
	store := graphstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "alice", Type: "leads", Dst: "gamma"}, "rec-1"))
	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "bob", Type: "leads", Dst: "delta"}, "rec-2"))

	require.NoError(t, store.DetachRecord(ctx, scope, "rec-1"))

	ids, err := store.Neighborhood(ctx, scope, "alice", 1)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = store.Neighborhood(ctx, scope, "bob", 1)
	require.NoError(t, err)
	assert.Contains(t, ids, "rec-2")
}

func TestEntityRelationships_CountsMentionsBothDirections(t *testing.T) {
	store := graphstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "alice", Type: "leads", Dst: "gamma"}, "rec-1"))
	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "gamma", Type: "reports_to", Dst: "alice"}, "rec-2"))

	mentions, related, types, err := store.EntityRelationships(ctx, scope, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, mentions)
	assert.ElementsMatch(t, []string{"gamma"}, related)
	assert.ElementsMatch(t, []string{"leads", "reports_to"}, types)
}

func TestSearch_RanksByTermOccurrenceCount(t *testing.T) {
	store := graphstore.NewMockStore()
	ctx := context.Background()
	scope := testScope()

	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "alice", Type: "leads", Dst: "gamma"}, "rec-1"))
	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "alice", Type: "owns", Dst: "delta"}, "rec-1"))
	require.NoError(t, store.MergeRelation(ctx, scope, models.Relation{Src: "bob", Type: "leads", Dst: "epsilon"}, "rec-2"))

	hits, err := store.Search(ctx, scope, []string{"alice"}, 5, ports.VectorSearchFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "rec-1", hits[0].ID, "rec-1 mentions alice twice and should rank above rec-2")
}
