package engine

import "github.com/openclaw/memcore/internal/models"

// ConflictRef names a record the new write was flagged against.
type ConflictRef struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SaveInput is the Save/SaveVerified contract's input, per §6.
type SaveInput struct {
	Scope         models.Scope
	Content       string
	Category      models.Category
	Confidence    int // 0 means "use category default"
	Source        string
	Tags          []string
	ExpiresAt     *int64 // unix seconds; nil means "use category default"
	ExtraMetadata map[string]string
}

// SaveResult is returned by Save/SaveVerified, per §6.
type SaveResult struct {
	ID        string
	Status    models.Status
	Created   bool
	Conflicts []ConflictRef
	Degraded  bool
}

// MilestoneInput is SaveMilestone's contract input, per §6.
type MilestoneInput struct {
	Scope         models.Scope
	MilestoneType models.MilestoneType
	Content       string
	ImpactLevel   int
	Tags          []string
}

// SearchInput is Search's contract input, per §6 and §4.6.
type SearchInput struct {
	Scope              models.Scope
	Query              string
	K                  int
	IncludeStatus      []models.Status // defaults to {active} when empty
	MinConfidence      int
	IncludeConflicted  bool
}

// ContextInput is GetContext's preset input, per §4.6.
type ContextInput struct {
	Scope         models.Scope
	Query         string
	MinConfidence int // 0 means "use configured default (7)"
	K             int // 0 means "use configured default (5)"
}
