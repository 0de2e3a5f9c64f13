// Package project implements the project-state and milestone rollups from
// §4.8: quality audits, current-state snapshots, and evolution timelines
// derived from the records an Engine already holds.
package project

import (
	"context"
	"fmt"
	"sort"

	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

// Reporter computes quality audits and project-state rollups over the
// records a VectorStore (and, for entity rollups, a GraphStore) holds for a
// scope. It reads only; it never writes.
type Reporter struct {
	Vector ports.VectorStore
	Graph  ports.GraphStore // may be nil: GetEntityRelationships degrades
}

// NewReporter builds a Reporter over the given stores.
func NewReporter(vector ports.VectorStore, graph ports.GraphStore) *Reporter {
	return &Reporter{Vector: vector, Graph: graph}
}

// ValidateProjectContext enumerates every record in scope and reports
// totals, breakdowns, and simple recommendations, per §4.8.
func (r *Reporter) ValidateProjectContext(ctx context.Context, scope models.Scope) (models.QualityReport, error) {
	records, err := r.listAll(ctx, scope)
	if err != nil {
		return models.QualityReport{}, err
	}
	return buildQualityReport(records), nil
}

// AuditMemoryQuality is ValidateProjectContext generalized to an optional
// cross-scope audit. Per §4.8 the cross-scope case requires an operator
// identity; callers pass scopes explicitly since the engine has no notion
// of "all scopes" without an external directory of tenants.
func (r *Reporter) AuditMemoryQuality(ctx context.Context, operatorID string, scopes []models.Scope) (models.QualityReport, error) {
	if len(scopes) > 1 && operatorID == "" {
		return models.QualityReport{}, errs.New(errs.InvalidInput, "audit_memory_quality", fmt.Errorf("operator identity required for cross-scope audit"))
	}

	var all []models.MemoryRecord
	for _, scope := range scopes {
		records, err := r.listAll(ctx, scope)
		if err != nil {
			return models.QualityReport{}, err
		}
		all = append(all, records...)
	}
	return buildQualityReport(all), nil
}

func buildQualityReport(records []models.MemoryRecord) models.QualityReport {
	report := models.QualityReport{
		ByStatus:   make(map[models.Status]int),
		ByCategory: make(map[models.Category]int),
	}

	var confidenceSum int
	var withMetadata int

	for _, rec := range records {
		report.Total++
		report.ByStatus[rec.Status]++
		report.ByCategory[rec.Category]++
		confidenceSum += rec.Confidence
		if len(rec.ExtraMetadata) > 0 {
			withMetadata++
		}
		if rec.Status == models.StatusExpired {
			report.ExpiredCount++
		}
		if rec.Status == models.StatusConflicted {
			report.ConflictedCount++
		}
	}

	if report.Total > 0 {
		report.AverageConfidence = float64(confidenceSum) / float64(report.Total)
		report.MetadataCoverage = float64(withMetadata) / float64(report.Total)
	}

	report.Recommendations = recommendationsFor(report)
	return report
}

// recommendationsFor derives simple rule-based recommendations from the
// report, per §4.8's "simple rules" directive (no magic scoring formula).
func recommendationsFor(report models.QualityReport) []string {
	var recs []string
	if report.ConflictedCount > 0 {
		recs = append(recs, "resolve conflicts")
	}
	if report.ExpiredCount > 0 {
		recs = append(recs, "run expiry sweep to archive expired records")
	}
	if report.Total > 0 && report.AverageConfidence < 5 {
		recs = append(recs, "average confidence is low; review source attribution")
	}
	if report.Total > 0 && report.MetadataCoverage < 0.3 {
		recs = append(recs, "most records lack extra_metadata; consider enriching writes")
	}
	return recs
}

// GetCurrentProjectState returns the last N milestones, the most recent
// status record, and a derived phase, per §4.8.
func (r *Reporter) GetCurrentProjectState(ctx context.Context, scope models.Scope, projectID string) (models.ProjectState, error) {
	records, err := r.listAll(ctx, scope)
	if err != nil {
		return models.ProjectState{}, err
	}

	var milestones []models.MemoryRecord
	var statuses []models.MemoryRecord
	for _, rec := range records {
		if projectID != "" && rec.Scope.Project != projectID {
			continue
		}
		switch rec.Category {
		case models.CategoryMilestone:
			milestones = append(milestones, rec)
		case models.CategoryStatus:
			statuses = append(statuses, rec)
		}
	}

	sort.Slice(milestones, func(i, j int) bool { return milestones[i].CreatedAt.After(milestones[j].CreatedAt) })
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].CreatedAt.After(statuses[j].CreatedAt) })

	const recentN = 5
	if len(milestones) > recentN {
		milestones = milestones[:recentN]
	}

	state := models.ProjectState{
		RecentMilestones: milestones,
		Phase:            derivePhase(len(milestones)),
	}
	if len(statuses) > 0 {
		latest := statuses[0]
		state.LatestStatus = &latest
	}
	return state, nil
}

// derivePhase maps a milestone count to the four named phases in §4.8.
func derivePhase(milestoneCount int) string {
	switch {
	case milestoneCount >= 5:
		return "mature"
	case milestoneCount >= 3:
		return "advanced"
	case milestoneCount >= 1:
		return "in_progress"
	default:
		return "planning"
	}
}

// TrackProjectEvolution returns a timeline of records (including deprecated
// ones, for history) ordered by created_at, with edges reflecting
// supersession links, per §4.8.
func (r *Reporter) TrackProjectEvolution(ctx context.Context, scope models.Scope, projectID string) (models.Timeline, error) {
	records, err := r.listAll(ctx, scope)
	if err != nil {
		return models.Timeline{}, err
	}

	var filtered []models.MemoryRecord
	for _, rec := range records {
		if projectID != "" && rec.Scope.Project != projectID {
			continue
		}
		filtered = append(filtered, rec)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })

	var edges []models.TimelineEdge
	for _, rec := range filtered {
		if rec.SupersededBy != "" {
			edges = append(edges, models.TimelineEdge{From: rec.ID, To: rec.SupersededBy})
		}
	}

	return models.Timeline{Records: filtered, Edges: edges}, nil
}

// GetEntityRelationships proxies to GraphStore.EntityRelationships, the
// remaining §4.8 rollup that needs the graph rather than the vector store.
func (r *Reporter) GetEntityRelationships(ctx context.Context, scope models.Scope, entity string) (int, []string, []string, error) {
	if r.Graph == nil {
		return 0, nil, nil, errs.New(errs.GraphStoreUnavailable, "get_entity_relationships", fmt.Errorf("graph store not configured"))
	}
	return r.Graph.EntityRelationships(ctx, scope, entity)
}

// listAll pages through the full scope via VectorStore.List.
func (r *Reporter) listAll(ctx context.Context, scope models.Scope) ([]models.MemoryRecord, error) {
	var all []models.MemoryRecord
	cursor := ""
	for {
		page, next, err := r.Vector.List(ctx, scope, cursor, 200)
		if err != nil {
			return nil, errs.New(errs.VectorStoreUnavailable, "list_scope", err)
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}
