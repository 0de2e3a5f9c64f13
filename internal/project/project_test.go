package project

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/vectorstore"
)

func testScope() models.Scope {
	return models.Scope{Tenant: "acme", User: "bob", Project: "widget"}
}

func seed(t *testing.T, store *vectorstore.MockStore, recs ...models.MemoryRecord) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, store.Upsert(context.Background(), r.Scope, r, []float32{0.1, 0.2, 0.3}))
	}
}

func TestValidateProjectContext_ReportsBreakdowns(t *testing.T) {
	store := vectorstore.NewMockStore()
	scope := testScope()
	seed(t, store,
		models.MemoryRecord{ID: "a", Scope: scope, Category: models.CategoryDecision, Confidence: 8, Status: models.StatusActive},
		models.MemoryRecord{ID: "b", Scope: scope, Category: models.CategoryProblem, Confidence: 4, Status: models.StatusConflicted},
		models.MemoryRecord{ID: "c", Scope: scope, Category: models.CategoryStatus, Confidence: 6, Status: models.StatusExpired, ExtraMetadata: map[string]string{"k": "v"}},
	)

	r := NewReporter(store, nil)
	report, err := r.ValidateProjectContext(context.Background(), scope)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.ConflictedCount)
	assert.Equal(t, 1, report.ExpiredCount)
	assert.InDelta(t, 6.0, report.AverageConfidence, 0.001)
	assert.Contains(t, report.Recommendations, "resolve conflicts")
	assert.Contains(t, report.Recommendations, "run expiry sweep to archive expired records")
}

func TestAuditMemoryQuality_RequiresOperatorForCrossScope(t *testing.T) {
	store := vectorstore.NewMockStore()
	r := NewReporter(store, nil)

	scopeA := models.Scope{Tenant: "acme", User: "bob"}
	scopeB := models.Scope{Tenant: "acme", User: "carol"}

	_, err := r.AuditMemoryQuality(context.Background(), "", []models.Scope{scopeA, scopeB})
	assert.Error(t, err)

	_, err = r.AuditMemoryQuality(context.Background(), "operator-1", []models.Scope{scopeA, scopeB})
	assert.NoError(t, err)
}

func TestGetCurrentProjectState_DerivesPhaseFromMilestoneCount(t *testing.T) {
	store := vectorstore.NewMockStore()
	scope := testScope()
	now := time.Now()

	seed(t, store,
		models.MemoryRecord{ID: "m1", Scope: scope, Category: models.CategoryMilestone, CreatedAt: now.Add(-3 * time.Hour)},
		models.MemoryRecord{ID: "m2", Scope: scope, Category: models.CategoryMilestone, CreatedAt: now.Add(-2 * time.Hour)},
		models.MemoryRecord{ID: "m3", Scope: scope, Category: models.CategoryMilestone, CreatedAt: now.Add(-1 * time.Hour)},
		models.MemoryRecord{ID: "s1", Scope: scope, Category: models.CategoryStatus, CreatedAt: now},
	)

	r := NewReporter(store, nil)
	state, err := r.GetCurrentProjectState(context.Background(), scope, "widget")
	require.NoError(t, err)

	assert.Equal(t, "advanced", state.Phase)
	require.Len(t, state.RecentMilestones, 3)
	assert.Equal(t, "m3", state.RecentMilestones[0].ID)
	require.NotNil(t, state.LatestStatus)
	assert.Equal(t, "s1", state.LatestStatus.ID)
}

func TestTrackProjectEvolution_OrdersByCreatedAtAndLinksSupersession(t *testing.T) {
	store := vectorstore.NewMockStore()
	scope := testScope()
	now := time.Now()

	seed(t, store,
		models.MemoryRecord{ID: "old", Scope: scope, Status: models.StatusDeprecated, SupersededBy: "new", CreatedAt: now.Add(-time.Hour)},
		models.MemoryRecord{ID: "new", Scope: scope, Status: models.StatusActive, CreatedAt: now},
	)

	r := NewReporter(store, nil)
	timeline, err := r.TrackProjectEvolution(context.Background(), scope, "widget")
	require.NoError(t, err)

	require.Len(t, timeline.Records, 2)
	assert.Equal(t, "old", timeline.Records[0].ID)
	assert.Equal(t, "new", timeline.Records[1].ID)
	require.Len(t, timeline.Edges, 1)
	assert.Equal(t, models.TimelineEdge{From: "old", To: "new"}, timeline.Edges[0])
}
