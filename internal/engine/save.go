package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

func validateSaveInput(in SaveInput) error {
	if !in.Scope.Valid() {
		return errs.New(errs.InvalidInput, "save", fmt.Errorf("scope requires tenant and user"))
	}
	if !in.Category.IsValid() {
		return errs.New(errs.InvalidInput, "save", fmt.Errorf("invalid category %q", in.Category))
	}
	if in.Confidence != 0 && !models.ValidConfidence(in.Confidence) {
		return errs.New(errs.InvalidInput, "save", fmt.Errorf("confidence %d out of range [1, 10]", in.Confidence))
	}
	if len(in.Content) == 0 {
		return errs.New(errs.InvalidInput, "save", fmt.Errorf("content must not be empty"))
	}
	return nil
}

// Save is the dual-write coordinator's entry point, implementing the
// algorithm in §4.3.
func (e *Engine) Save(ctx context.Context, in SaveInput) (SaveResult, error) {
	defer metrics.Timer(metrics.WriteLatency, "save")()
	metrics.Inc(metrics.SaveTotal)

	if err := validateSaveInput(in); err != nil {
		metrics.ObserveError("save", errs.KindOf(err).String())
		return SaveResult{}, err
	}

	id := fingerprint.ID(in.Scope, in.Content)
	lockKey := fingerprint.WriteLockKey(in.Scope, id)

	var result SaveResult
	err := e.Locks.WithLock(ctx, lockKey, e.cfg.WriteLockTTL, func(ctx context.Context) error {
		r, err := e.saveLocked(ctx, in, id)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if errs.Is(err, errs.Contended) {
			err = errs.New(errs.Contended, "save", err).WithScope(fingerprint.ScopeHash(in.Scope), id)
		}
		metrics.ObserveError("save", errs.KindOf(err).String())
		return SaveResult{}, err
	}
	if len(result.Conflicts) > 0 {
		metrics.Inc(metrics.ConflictsFlagged)
	}
	return result, nil
}

// SaveVerified is Save with the stricter contract from §6: source is
// required and confidence must be at least 7.
func (e *Engine) SaveVerified(ctx context.Context, in SaveInput) (SaveResult, error) {
	if in.Source == "" {
		return SaveResult{}, errs.New(errs.InvalidInput, "save_verified", fmt.Errorf("source is required"))
	}
	if in.Confidence != 0 && in.Confidence < 7 {
		return SaveResult{}, errs.New(errs.InvalidInput, "save_verified", fmt.Errorf("confidence must be >= 7, got %d", in.Confidence))
	}
	if in.Confidence == 0 {
		in.Confidence = 9
	}
	return e.Save(ctx, in)
}

// SaveMilestone writes a category=milestone record carrying the tagged
// milestone variant, per §3's Milestone specialization.
func (e *Engine) SaveMilestone(ctx context.Context, in MilestoneInput) (models.MemoryRecord, error) {
	if !in.MilestoneType.IsValid() {
		return models.MemoryRecord{}, errs.New(errs.InvalidInput, "save_milestone", fmt.Errorf("invalid milestone_type %q", in.MilestoneType))
	}
	if in.ImpactLevel < 1 || in.ImpactLevel > 10 {
		return models.MemoryRecord{}, errs.New(errs.InvalidInput, "save_milestone", fmt.Errorf("impact_level %d out of range [1, 10]", in.ImpactLevel))
	}

	saveIn := SaveInput{
		Scope:    in.Scope,
		Content:  in.Content,
		Category: models.CategoryMilestone,
		Source:   "milestone",
		Tags:     in.Tags,
	}
	if err := validateSaveInput(saveIn); err != nil {
		return models.MemoryRecord{}, err
	}

	id := fingerprint.ID(saveIn.Scope, saveIn.Content)
	lockKey := fingerprint.WriteLockKey(saveIn.Scope, id)

	var rec models.MemoryRecord
	err := e.Locks.WithLock(ctx, lockKey, e.cfg.WriteLockTTL, func(ctx context.Context) error {
		milestone := &models.MilestoneFields{MilestoneType: in.MilestoneType, ImpactLevel: in.ImpactLevel}
		r, _, err := e.saveLockedWithMilestone(ctx, saveIn, id, milestone)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return models.MemoryRecord{}, err
	}
	return rec, nil
}

// saveLocked runs the fingerprint/idempotency/fanout/conflict/dual-write
// sequence while the per-(scope,id) lock is held. Caller holds the lock.
func (e *Engine) saveLocked(ctx context.Context, in SaveInput, id string) (SaveResult, error) {
	rec, created, err := e.saveLockedWithMilestone(ctx, in, id, nil)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{
		ID:        rec.ID,
		Status:    rec.Status,
		Created:   created,
		Conflicts: conflictRefsFrom(rec),
		Degraded:  rec.Degraded,
	}, nil
}

func conflictRefsFrom(rec models.MemoryRecord) []ConflictRef {
	refs := make([]ConflictRef, len(rec.ConflictWith))
	for i, id := range rec.ConflictWith {
		refs[i] = ConflictRef{ID: id}
	}
	return refs
}

func (e *Engine) saveLockedWithMilestone(ctx context.Context, in SaveInput, id string, milestone *models.MilestoneFields) (models.MemoryRecord, bool, error) {
	now := e.now()

	// Step 4: idempotency check.
	if existing, ok, err := e.Vector.Get(ctx, in.Scope, id); err == nil && ok {
		if fingerprint.Normalize(existing.Content) == fingerprint.Normalize(in.Content) {
			metrics.Inc(metrics.DedupSkipped)
			return existing, false, nil
		}
	}

	confidence := in.Confidence
	if confidence == 0 {
		confidence = in.Category.DefaultConfidence()
	}
	confidence = models.ClampConfidence(confidence)

	var expiresAt time.Time
	if in.ExpiresAt != nil {
		expiresAt = time.Unix(*in.ExpiresAt, 0).UTC()
	} else {
		expiresAt = in.Category.DefaultExpiry(now)
	}

	rec := models.MemoryRecord{
		ID:            id,
		Scope:         in.Scope,
		Content:       in.Content,
		Category:      in.Category,
		Confidence:    confidence,
		Source:        in.Source,
		Tags:          append([]string(nil), in.Tags...),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expiresAt,
		Version:       1,
		Status:        models.StatusActive,
		ExtraMetadata: in.ExtraMetadata,
		Milestone:     milestone,
	}

	// Step 5: parallel fanout to Embedder and Extractor.
	vector, entities, relations, extractorDegraded, err := e.fanoutEmbedExtract(ctx, in.Content)
	if err != nil {
		return models.MemoryRecord{}, false, err
	}
	rec.Entities = entities
	rec.Relations = relations

	// Step 6: conflict detection.
	conflictIDs, err := e.detectConflicts(ctx, in.Scope, in.Category, rec.ID, rec.Content, rec.Tags, vector)
	if err != nil {
		e.logger.Warn("conflict detection failed, proceeding without it", "error", err)
	}
	if len(conflictIDs) > 0 {
		rec.Status = models.StatusConflicted
		rec.ConflictWith = conflictIDs
	}

	// Step 7: dual write.
	degraded := extractorDegraded
	if err := e.Vector.Upsert(ctx, in.Scope, rec, vector); err != nil {
		return models.MemoryRecord{}, false, errs.New(errs.VectorStoreUnavailable, "save", err).WithScope(fingerprint.ScopeHash(in.Scope), id)
	}

	if e.Graph != nil {
		if gerr := e.writeGraph(ctx, in.Scope, rec); gerr != nil {
			e.logger.Warn("graph write failed, enqueuing compensation", "id", rec.ID, "error", gerr)
			degraded = true
			rec.Degraded = true
			_ = e.Vector.Upsert(ctx, in.Scope, rec, vector)
			e.Compensation.Enqueue(CompensationTask{
				ID:     newTaskID(),
				Kind:   CompensationGraphRetry,
				Scope:  in.Scope,
				Record: rec,
				Vector: vector,
			})
		}
	} else {
		degraded = true
		rec.Degraded = true
		e.Compensation.Enqueue(CompensationTask{
			ID:     newTaskID(),
			Kind:   CompensationGraphRetry,
			Scope:  in.Scope,
			Record: rec,
			Vector: vector,
		})
	}

	// Second pass: flag existing peers as conflicted too.
	if len(conflictIDs) > 0 {
		e.flagPeersConflicted(ctx, in.Scope, conflictIDs, rec.ID)
	}

	// Step 8: emit event.
	topic := ports.TopicMemoryCreated
	if rec.Status == models.StatusConflicted {
		topic = ports.TopicMemoryConflicted
	}
	e.publish(ctx, topic, rec.ID, fingerprint.ScopeHash(in.Scope), map[string]string{
		"category": string(rec.Category),
	})

	// Step 9: invalidate cache.
	if e.Cache != nil {
		_ = e.Cache.InvalidatePrefix(ctx, fingerprint.CachePrefix(in.Scope))
	}

	rec.Degraded = degraded
	return rec, true, nil
}

// fanoutEmbedExtract embeds content and extracts entities/relations.
// Embedder failure aborts the write; extractor failure degrades to an
// empty graph payload, per §4.1/§4.3 step 5.
func (e *Engine) fanoutEmbedExtract(ctx context.Context, content string) ([]float32, []string, []models.Relation, bool, error) {
	vector, err := e.Embedder.Embed(ctx, content)
	if err != nil {
		return nil, nil, nil, false, errs.New(errs.EmbedderUnavailable, "save", err)
	}

	if e.Extractor == nil {
		return vector, nil, nil, true, nil
	}

	entities, relations, err := e.Extractor.Extract(ctx, content)
	if err != nil {
		e.logger.Warn("extractor failed, proceeding with empty graph payload", "error", err)
		return vector, nil, nil, true, nil
	}
	return vector, entities, relations, false, nil
}

func (e *Engine) writeGraph(ctx context.Context, scope models.Scope, rec models.MemoryRecord) error {
	for _, entity := range rec.Entities {
		if err := e.Graph.MergeEntity(ctx, scope, entity); err != nil {
			return fmt.Errorf("merging entity %q: %w", entity, err)
		}
	}
	for _, rel := range rec.Relations {
		if err := e.Graph.MergeRelation(ctx, scope, rel, rec.ID); err != nil {
			return fmt.Errorf("merging relation %s-%s->%s: %w", rel.Src, rel.Type, rel.Dst, err)
		}
	}
	return nil
}

// detectConflicts searches for near-duplicates above τ_conflict in the
// same scope and category, then applies the textual tests in §4.5.
func (e *Engine) detectConflicts(ctx context.Context, scope models.Scope, category models.Category, selfID, content string, tags []string, vector []float32) ([]string, error) {
	hits, err := e.Vector.Search(ctx, scope, vector, 20, ports.VectorSearchFilter{
		Status:   []models.Status{models.StatusActive},
		Category: category,
	})
	if err != nil {
		return nil, err
	}

	var conflicts []string
	for _, hit := range hits {
		if hit.ID == selfID || hit.Score < e.cfg.ConflictSimilarity {
			continue
		}
		candidate, ok, err := e.Vector.Get(ctx, scope, hit.ID)
		if err != nil || !ok {
			continue
		}
		if isConflict, _ := e.Conflict.Detect(content, tags, candidate.Content, candidate.Tags); isConflict {
			conflicts = append(conflicts, candidate.ID)
		}
	}
	return conflicts, nil
}

// flagPeersConflicted mutates each existing peer to status=conflicted with
// the new record's ID appended to its conflict_with set, per §4.5: "older
// peers are also flagged by mutation in a second pass."
func (e *Engine) flagPeersConflicted(ctx context.Context, scope models.Scope, peerIDs []string, newID string) {
	for _, peerID := range peerIDs {
		peer, ok, err := e.Vector.Get(ctx, scope, peerID)
		if err != nil || !ok {
			continue
		}
		if peer.Status == models.StatusDeprecated {
			continue
		}
		peer.Status = models.StatusConflicted
		peer.ConflictWith = appendUnique(peer.ConflictWith, newID)

		vector, err := e.Embedder.Embed(ctx, peer.Content)
		if err != nil {
			e.logger.Warn("re-embedding peer during conflict flagging failed", "id", peer.ID, "error", err)
			continue
		}
		if err := e.Vector.Upsert(ctx, scope, peer, vector); err != nil {
			e.logger.Warn("flagging peer conflicted failed", "id", peer.ID, "error", err)
			continue
		}
		e.publish(ctx, ports.TopicMemoryConflicted, peer.ID, fingerprint.ScopeHash(scope), map[string]string{"conflict_with": newID})
	}
}

func appendUnique(items []string, item string) []string {
	for _, i := range items {
		if i == item {
			return items
		}
	}
	return append(items, item)
}
