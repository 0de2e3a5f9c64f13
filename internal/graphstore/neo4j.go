// Package graphstore implements the ports.GraphStore contract against
// Neo4j. The teacher's go.mod already pulled in neo4j-go-driver/v5 but
// never used it; this package is where that dependency is finally wired.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

// Neo4jStore implements ports.GraphStore. Entities are nodes labeled
// `:Entity` scoped by a `scope_hash` property (so distinct tenants never
// collide on an entity node); relations are generic `:RELATES` edges
// carrying the original relation type and the owning record ID.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore dials Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver for %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity at %s: %w", uri, err)
	}
	if database == "" {
		database = "neo4j"
	}
	logger.Info("connected to Neo4j", "uri", uri, "database", database)
	return &Neo4jStore{driver: driver, database: database, logger: logger}, nil
}

func (g *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.database})
}

func (g *Neo4jStore) MergeEntity(ctx context.Context, scope models.Scope, name string) error {
	session := g.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`MERGE (e:Entity {scope_hash: $scope_hash, name: $name})
			 ON CREATE SET e.created_at = datetime()
			 SET e.updated_at = datetime()`,
			map[string]any{"scope_hash": scope.Canonical(), "name": name})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("merging entity %q: %w", name, err)
	}
	return nil
}

func (g *Neo4jStore) MergeRelation(ctx context.Context, scope models.Scope, rel models.Relation, recordID string) error {
	session := g.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`MERGE (src:Entity {scope_hash: $scope_hash, name: $src})
			 MERGE (dst:Entity {scope_hash: $scope_hash, name: $dst})
			 MERGE (src)-[r:RELATES {type: $rel_type, record_id: $record_id}]->(dst)
			 ON CREATE SET r.created_at = datetime()`,
			map[string]any{
				"scope_hash": scope.Canonical(),
				"src":        rel.Src,
				"dst":        rel.Dst,
				"rel_type":   rel.Type,
				"record_id":  recordID,
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("merging relation %s-%s->%s: %w", rel.Src, rel.Type, rel.Dst, err)
	}
	return nil
}

func (g *Neo4jStore) DetachRecord(ctx context.Context, scope models.Scope, id string) error {
	session := g.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`MATCH (:Entity {scope_hash: $scope_hash})-[r:RELATES {record_id: $id}]->(:Entity {scope_hash: $scope_hash})
			 DELETE r`,
			map[string]any{"scope_hash": scope.Canonical(), "id": id})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("detaching record %s: %w", id, err)
	}
	return nil
}

func (g *Neo4jStore) Search(ctx context.Context, scope models.Scope, queryTerms []string, k int, filter ports.VectorSearchFilter) ([]ports.VectorHit, error) {
	if len(queryTerms) == 0 {
		return nil, nil
	}

	session := g.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx,
			`MATCH (e:Entity {scope_hash: $scope_hash})-[r:RELATES]->()
			 WHERE e.name IN $terms
			 RETURN r.record_id AS record_id, count(*) AS hits
			 ORDER BY hits DESC
			 LIMIT $k`,
			map[string]any{"scope_hash": scope.Canonical(), "terms": queryTerms, "k": int64(k)})
		if err != nil {
			return nil, err
		}
		var hits []ports.VectorHit
		maxHits := 1.0
		for rows.Next(ctx) {
			record := rows.Record()
			id, _ := record.Get("record_id")
			n, _ := record.Get("hits")
			count := toFloat(n)
			if count > maxHits {
				maxHits = count
			}
			hits = append(hits, ports.VectorHit{ID: fmt.Sprint(id), Score: count})
		}
		// Normalize counts into [0, 1] proximity scores.
		for i := range hits {
			hits[i].Score = hits[i].Score / maxHits
		}
		return hits, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}
	return result.([]ports.VectorHit), nil
}

func (g *Neo4jStore) Neighborhood(ctx context.Context, scope models.Scope, entity string, maxHops int) ([]string, error) {
	if maxHops <= 0 {
		maxHops = 1
	}
	session := g.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(
			`MATCH (start:Entity {scope_hash: $scope_hash, name: $name})-[r:RELATES*1..%d]-(:Entity {scope_hash: $scope_hash})
			 UNWIND r AS rel
			 RETURN DISTINCT rel.record_id AS record_id`, maxHops)
		rows, err := tx.Run(ctx, query, map[string]any{"scope_hash": scope.Canonical(), "name": entity})
		if err != nil {
			return nil, err
		}
		var ids []string
		for rows.Next(ctx) {
			id, _ := rows.Record().Get("record_id")
			ids = append(ids, fmt.Sprint(id))
		}
		return ids, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neighborhood search for %q: %w", entity, err)
	}
	return result.([]string), nil
}

func (g *Neo4jStore) EntityRelationships(ctx context.Context, scope models.Scope, entity string) (int, []string, []string, error) {
	session := g.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	type out struct {
		mentions  int
		related   []string
		relTypes  []string
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx,
			`MATCH (e:Entity {scope_hash: $scope_hash, name: $name})-[r:RELATES]-(other:Entity)
			 RETURN count(r) AS mentions, collect(DISTINCT other.name) AS related, collect(DISTINCT r.type) AS rel_types`,
			map[string]any{"scope_hash": scope.Canonical(), "name": entity})
		if err != nil {
			return nil, err
		}
		if !rows.Next(ctx) {
			return out{}, rows.Err()
		}
		record := rows.Record()
		mentionsVal, _ := record.Get("mentions")
		relatedVal, _ := record.Get("related")
		typesVal, _ := record.Get("rel_types")
		return out{
			mentions: int(toFloat(mentionsVal)),
			related:  toStringSlice(relatedVal),
			relTypes: toStringSlice(typesVal),
		}, rows.Err()
	})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("entity relationships for %q: %w", entity, err)
	}
	o := result.(out)
	return o.mentions, o.related, o.relTypes, nil
}

func (g *Neo4jStore) Close() error {
	return g.driver.Close(context.Background())
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

var _ ports.GraphStore = (*Neo4jStore)(nil)
