package engine

import (
	"context"
	"fmt"

	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
)

// Get fetches a single record by ID within scope, per §6's Get operation.
// A missing record maps to the NotFound typed error from §7 rather than a
// zero-value, ok=false return — callers get one error taxonomy for both a
// scope mismatch and a genuinely absent ID.
func (e *Engine) Get(ctx context.Context, scope models.Scope, id string) (models.MemoryRecord, error) {
	defer metrics.Timer(metrics.ReadLatency, "get")()

	if !scope.Valid() {
		err := errs.New(errs.InvalidInput, "get", fmt.Errorf("scope requires tenant and user"))
		metrics.ObserveError("get", errs.KindOf(err).String())
		return models.MemoryRecord{}, err
	}

	rec, ok, err := e.Vector.Get(ctx, scope, id)
	if err != nil {
		wrapped := errs.New(errs.VectorStoreUnavailable, "get", err).WithScope(fingerprint.ScopeHash(scope), id)
		metrics.ObserveError("get", errs.KindOf(wrapped).String())
		return models.MemoryRecord{}, wrapped
	}
	if !ok {
		notFound := errs.New(errs.NotFound, "get", fmt.Errorf("record %q not found", id)).WithScope(fingerprint.ScopeHash(scope), id)
		metrics.ObserveError("get", errs.KindOf(notFound).String())
		return models.MemoryRecord{}, notFound
	}
	return rec, nil
}

// GetAll pages through every record in scope, per §6's GetAll operation.
// cursor/limit pass straight through to ports.VectorStore.List; an empty
// cursor starts from the beginning and the returned cursor is empty once
// the scope is exhausted.
func (e *Engine) GetAll(ctx context.Context, scope models.Scope, cursor string, limit int) ([]models.MemoryRecord, string, error) {
	defer metrics.Timer(metrics.ReadLatency, "get_all")()

	if !scope.Valid() {
		err := errs.New(errs.InvalidInput, "get_all", fmt.Errorf("scope requires tenant and user"))
		metrics.ObserveError("get_all", errs.KindOf(err).String())
		return nil, "", err
	}
	if limit <= 0 {
		limit = e.cfg.DefaultSearchK
	}

	records, next, err := e.Vector.List(ctx, scope, cursor, limit)
	if err != nil {
		wrapped := errs.New(errs.VectorStoreUnavailable, "get_all", err).WithScope(fingerprint.ScopeHash(scope), "")
		metrics.ObserveError("get_all", errs.KindOf(wrapped).String())
		return nil, "", wrapped
	}
	return records, next, nil
}
