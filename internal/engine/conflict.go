package engine

import (
	"context"
	"fmt"

	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

// ResolveConflict consolidates a set of conflicting records into one
// authoritative replacement, per §4.5: acquire the resolve lock, validate
// every original, write the consolidated record, deprecate the originals,
// emit events, invalidate the scope cache.
func (e *Engine) ResolveConflict(ctx context.Context, scope models.Scope, conflictingIDs []string, correctContent, reason string) (models.MemoryRecord, error) {
	defer metrics.Timer(metrics.WriteLatency, "resolve_conflict")()

	if !scope.Valid() {
		err := errs.New(errs.InvalidInput, "resolve_conflict", fmt.Errorf("scope requires tenant and user"))
		metrics.ObserveError("resolve_conflict", errs.KindOf(err).String())
		return models.MemoryRecord{}, err
	}
	if len(conflictingIDs) == 0 {
		err := errs.New(errs.InvalidInput, "resolve_conflict", fmt.Errorf("conflicting_ids must not be empty"))
		metrics.ObserveError("resolve_conflict", errs.KindOf(err).String())
		return models.MemoryRecord{}, err
	}
	if len(correctContent) == 0 {
		err := errs.New(errs.InvalidInput, "resolve_conflict", fmt.Errorf("correct_content must not be empty"))
		metrics.ObserveError("resolve_conflict", errs.KindOf(err).String())
		return models.MemoryRecord{}, err
	}

	lockKey := fingerprint.ResolveLockKey(scope, conflictingIDs)

	var result models.MemoryRecord
	err := e.Locks.WithLock(ctx, lockKey, e.cfg.ResolveLockTTL, func(ctx context.Context) error {
		r, err := e.resolveConflictLocked(ctx, scope, conflictingIDs, correctContent, reason)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if errs.Is(err, errs.Contended) {
			err = errs.New(errs.Contended, "resolve_conflict", err).WithScope(fingerprint.ScopeHash(scope), "")
		}
		metrics.ObserveError("resolve_conflict", errs.KindOf(err).String())
		return models.MemoryRecord{}, err
	}
	return result, nil
}

func (e *Engine) resolveConflictLocked(ctx context.Context, scope models.Scope, conflictingIDs []string, correctContent, reason string) (models.MemoryRecord, error) {
	originals := make([]models.MemoryRecord, 0, len(conflictingIDs))
	for _, id := range conflictingIDs {
		rec, ok, err := e.Vector.Get(ctx, scope, id)
		if err != nil {
			return models.MemoryRecord{}, errs.New(errs.VectorStoreUnavailable, "resolve_conflict", err).WithScope(fingerprint.ScopeHash(scope), id)
		}
		if !ok {
			return models.MemoryRecord{}, errs.New(errs.NotFound, "resolve_conflict", fmt.Errorf("record %q not found", id)).WithScope(fingerprint.ScopeHash(scope), id)
		}
		if rec.Status == models.StatusDeprecated {
			return models.MemoryRecord{}, errs.New(errs.ConflictUnresolved, "resolve_conflict", fmt.Errorf("record %q is already deprecated", id)).WithScope(fingerprint.ScopeHash(scope), id)
		}
		originals = append(originals, rec)
	}

	now := e.now()
	category := originals[0].Category
	newID := fingerprint.ID(scope, correctContent)

	vector, entities, relations, _, err := e.fanoutEmbedExtract(ctx, correctContent)
	if err != nil {
		return models.MemoryRecord{}, err
	}

	extra := map[string]string{"reason": reason}
	for i, orig := range originals {
		extra[fmt.Sprintf("original_id_%d", i)] = orig.ID
	}

	consolidated := models.MemoryRecord{
		ID:            newID,
		Scope:         scope,
		Content:       correctContent,
		Category:      category,
		Confidence:    10,
		Source:        "conflict_resolution",
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     category.DefaultExpiry(now),
		Version:       1,
		Status:        models.StatusActive,
		ConflictWith:  conflictingIDs,
		ExtraMetadata: extra,
		Entities:      entities,
		Relations:     relations,
	}

	if err := e.Vector.Upsert(ctx, scope, consolidated, vector); err != nil {
		return models.MemoryRecord{}, errs.New(errs.VectorStoreUnavailable, "resolve_conflict", err).WithScope(fingerprint.ScopeHash(scope), newID)
	}
	if e.Graph != nil {
		if err := e.writeGraph(ctx, scope, consolidated); err != nil {
			e.logger.Warn("graph write for consolidated record failed, enqueuing compensation", "id", newID, "error", err)
			consolidated.Degraded = true
			_ = e.Vector.Upsert(ctx, scope, consolidated, vector)
			e.Compensation.Enqueue(CompensationTask{
				ID: newTaskID(), Kind: CompensationGraphRetry, Scope: scope, Record: consolidated, Vector: vector,
			})
		}
	}

	for _, orig := range originals {
		if err := e.Vector.UpdateStatus(ctx, scope, orig.ID, models.StatusDeprecated, newID, orig.Version+1, now); err != nil {
			e.logger.Warn("deprecating original failed", "id", orig.ID, "error", err)
			continue
		}
		if e.Graph != nil {
			if err := e.Graph.DetachRecord(ctx, scope, orig.ID); err != nil {
				e.logger.Warn("detaching deprecated original from graph failed", "id", orig.ID, "error", err)
			}
		}
		e.publish(ctx, ports.TopicMemoryDeprecated, orig.ID, fingerprint.ScopeHash(scope), map[string]string{"superseded_by": newID})
	}

	e.publish(ctx, ports.TopicMemoryCreated, consolidated.ID, fingerprint.ScopeHash(scope), map[string]string{"category": string(consolidated.Category)})

	if e.Cache != nil {
		_ = e.Cache.InvalidatePrefix(ctx, fingerprint.CachePrefix(scope))
	}

	return consolidated, nil
}
