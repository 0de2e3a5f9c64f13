// Package vectorstore implements the ports.VectorStore contract against
// Qdrant, adapted from the teacher's internal/store/qdrant.go to the
// scope-qualified MemoryRecord model.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

var _ ports.VectorStore = (*QdrantStore)(nil)

const (
	dialTimeout  = 10 * time.Second
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
)

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// QdrantStore implements ports.VectorStore using Qdrant's gRPC API. A single
// collection serves many scopes: point IDs derive from the record ID alone
// (see numericPointID), and every point carries its scope in the scope_hash
// payload field, which Search and List filter on and Get checks.
type QdrantStore struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection pb.CollectionsClient
	collName   string
	dimension  uint64
	logger     *slog.Logger
}

// NewQdrantStore dials Qdrant and verifies connectivity with a lightweight
// List RPC before returning.
func NewQdrantStore(host string, port int, collection string, dimension uint64, useTLS bool, logger *slog.Logger) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	var opts []grpc.DialOption
	if !useTLS {
		logger.Warn("Qdrant connection using insecure credentials (no TLS)")
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant at %s: %w", addr, err)
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()
	if _, err := pb.NewCollectionsClient(conn).List(dialCtx, &pb.ListCollectionsRequest{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("verifying Qdrant connection at %s: %w", addr, err)
	}

	logger.Info("connected to Qdrant", "addr", addr, "collection", collection)

	return &QdrantStore{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: pb.NewCollectionsClient(conn),
		collName:   collection,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the backing collection and its payload field
// indexes if they do not already exist.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	rctx, rcancel := withTimeout(ctx, readTimeout)
	defer rcancel()
	resp, err := q.collection.List(rctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}

	for _, c := range resp.GetCollections() {
		if c.GetName() == q.collName {
			return nil
		}
	}

	wctx, wcancel := withTimeout(ctx, writeTimeout)
	defer wcancel()
	_, err = q.collection.Create(wctx, &pb.CreateCollection{
		CollectionName: q.collName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: q.dimension, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collName, err)
	}

	q.logger.Info("created collection", "name", q.collName, "dimension", q.dimension)

	for _, field := range []string{"scope_hash", "status", "category", "tags", "source"} {
		ictx, icancel := withTimeout(ctx, writeTimeout)
		_, err := q.points.CreateFieldIndex(ictx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collName,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		icancel()
		if err != nil {
			q.logger.Warn("creating field index", "field", field, "error", err)
		}
	}

	return nil
}

func (q *QdrantStore) Upsert(ctx context.Context, scope models.Scope, record models.MemoryRecord, vector []float32) error {
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()
	payload := recordToPayload(scope, record)

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collName,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: numericPointID(record.ID)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upserting point %s: %w", record.ID, err)
	}
	return nil
}

func (q *QdrantStore) Delete(ctx context.Context, scope models.Scope, id string) error {
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collName,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: numericPointID(id)}}}},
		}},
	})
	if err != nil {
		return fmt.Errorf("deleting point %s: %w", id, err)
	}
	return nil
}

func (q *QdrantStore) Get(ctx context.Context, scope models.Scope, id string) (models.MemoryRecord, bool, error) {
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collName,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: numericPointID(id)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return models.MemoryRecord{}, false, fmt.Errorf("getting point %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return models.MemoryRecord{}, false, nil
	}
	rec, err := payloadToRecord(resp.GetResult()[0].GetPayload())
	if err != nil {
		return models.MemoryRecord{}, false, err
	}
	if rec.Scope.Canonical() != scope.Canonical() {
		return models.MemoryRecord{}, false, nil
	}
	return rec, true, nil
}

func (q *QdrantStore) Search(ctx context.Context, scope models.Scope, vector []float32, k int, filter ports.VectorSearchFilter) ([]ports.VectorHit, error) {
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()
	req := &pb.SearchPoints{
		CollectionName: q.collName,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         buildFilter(scope, filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	hits := make([]ports.VectorHit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		rec, err := payloadToRecord(point.GetPayload())
		if err != nil {
			q.logger.Warn("parsing search result", "error", err)
			continue
		}
		hits = append(hits, ports.VectorHit{ID: rec.ID, Score: float64(point.GetScore())})
	}
	return hits, nil
}

func (q *QdrantStore) List(ctx context.Context, scope models.Scope, cursor string, limit int) ([]models.MemoryRecord, string, error) {
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()

	limit32 := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: q.collName,
		Filter:         buildFilter(scope, ports.VectorSearchFilter{}),
		Limit:          &limit32,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		if n, err := strconv.ParseUint(cursor, 10, 64); err == nil {
			req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: n}}
		}
	}

	resp, err := q.points.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("scrolling points: %w", err)
	}

	records := make([]models.MemoryRecord, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		rec, err := payloadToRecord(point.GetPayload())
		if err != nil {
			q.logger.Warn("parsing list result", "error", err)
			continue
		}
		records = append(records, rec)
	}

	var next string
	if npo := resp.GetNextPageOffset(); npo != nil {
		next = strconv.FormatUint(npo.GetNum(), 10)
	}
	return records, next, nil
}

// UpdateAccessMetadata sets last_accessed directly via SetPayload, avoiding
// a read-modify-write race on access_count.
func (q *QdrantStore) UpdateAccessMetadata(ctx context.Context, scope models.Scope, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	wctx, wcancel := withTimeout(ctx, writeTimeout)
	defer wcancel()
	_, err := q.points.SetPayload(wctx, &pb.SetPayloadPoints{
		CollectionName: q.collName,
		PointsSelector: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: numericPointID(id)}}}},
		}},
		Payload: map[string]*pb.Value{
			"last_accessed": {Kind: &pb.Value_StringValue{StringValue: now}},
		},
	})
	if err != nil {
		return fmt.Errorf("update access metadata for %s: %w", id, err)
	}
	return nil
}

// UpdateStatus sets status/superseded_by/updated_at (and version, when
// newVersion is non-zero) via SetPayload, leaving the stored vector
// untouched — used by the lifecycle sweeper and conflict resolution, which
// mutate metadata on content-immutable records.
func (q *QdrantStore) UpdateStatus(ctx context.Context, scope models.Scope, id string, status models.Status, supersededBy string, newVersion int, updatedAt time.Time) error {
	wctx, wcancel := withTimeout(ctx, writeTimeout)
	defer wcancel()

	payload := map[string]*pb.Value{
		"status":     {Kind: &pb.Value_StringValue{StringValue: string(status)}},
		"updated_at": {Kind: &pb.Value_StringValue{StringValue: updatedAt.Format(time.RFC3339)}},
	}
	if supersededBy != "" {
		payload["superseded_by"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: supersededBy}}
	}
	if newVersion != 0 {
		payload["version"] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(newVersion)}}
	}

	_, err := q.points.SetPayload(wctx, &pb.SetPayloadPoints{
		CollectionName: q.collName,
		PointsSelector: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: numericPointID(id)}}}},
		}},
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	return nil
}

func (q *QdrantStore) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// --- payload marshaling ---

func recordToPayload(scope models.Scope, m models.MemoryRecord) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"id":          {Kind: &pb.Value_StringValue{StringValue: m.ID}},
		"scope_hash":  {Kind: &pb.Value_StringValue{StringValue: scopeHash(scope)}},
		"tenant":      {Kind: &pb.Value_StringValue{StringValue: scope.Tenant}},
		"user":        {Kind: &pb.Value_StringValue{StringValue: scope.User}},
		"agent":       {Kind: &pb.Value_StringValue{StringValue: scope.Agent}},
		"session":     {Kind: &pb.Value_StringValue{StringValue: scope.Session}},
		"project":     {Kind: &pb.Value_StringValue{StringValue: scope.Project}},
		"content":     {Kind: &pb.Value_StringValue{StringValue: m.Content}},
		"category":    {Kind: &pb.Value_StringValue{StringValue: string(m.Category)}},
		"confidence":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.Confidence)}},
		"source":      {Kind: &pb.Value_StringValue{StringValue: m.Source}},
		"status":      {Kind: &pb.Value_StringValue{StringValue: string(m.Status)}},
		"version":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.Version)}},
		"created_at":  {Kind: &pb.Value_StringValue{StringValue: m.CreatedAt.Format(time.RFC3339)}},
		"updated_at":  {Kind: &pb.Value_StringValue{StringValue: m.UpdatedAt.Format(time.RFC3339)}},
		"access_count": {Kind: &pb.Value_IntegerValue{IntegerValue: m.AccessCount}},
	}
	if !m.ExpiresAt.IsZero() {
		payload["expires_at"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: m.ExpiresAt.Format(time.RFC3339)}}
	}
	if !m.LastAccessed.IsZero() {
		payload["last_accessed"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: m.LastAccessed.Format(time.RFC3339)}}
	}
	if m.SupersededBy != "" {
		payload["superseded_by"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: m.SupersededBy}}
	}
	if len(m.Tags) > 0 {
		vals := make([]*pb.Value, len(m.Tags))
		for i, t := range m.Tags {
			vals[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
		}
		payload["tags"] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	}
	if len(m.Entities) > 0 {
		vals := make([]*pb.Value, len(m.Entities))
		for i, e := range m.Entities {
			vals[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: e}}
		}
		payload["entities"] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	}
	if len(m.ConflictWith) > 0 {
		vals := make([]*pb.Value, len(m.ConflictWith))
		for i, c := range m.ConflictWith {
			vals[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: c}}
		}
		payload["conflict_with"] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	}
	if blob, err := json.Marshal(m.Relations); err == nil && len(m.Relations) > 0 {
		payload["relations"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(blob)}}
	}
	if len(m.ExtraMetadata) > 0 {
		if blob, err := json.Marshal(m.ExtraMetadata); err == nil {
			payload["extra_metadata"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(blob)}}
		}
	}
	if m.Milestone != nil {
		if blob, err := json.Marshal(m.Milestone); err == nil {
			payload["milestone"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(blob)}}
		}
	}
	return payload
}

func payloadToRecord(payload map[string]*pb.Value) (models.MemoryRecord, error) {
	m := models.MemoryRecord{
		ID:         getString(payload, "id"),
		Content:    getString(payload, "content"),
		Category:   models.Category(getString(payload, "category")),
		Confidence: int(getInt(payload, "confidence")),
		Source:     getString(payload, "source"),
		Status:     models.Status(getString(payload, "status")),
		Version:    int(getInt(payload, "version")),
		AccessCount: getInt(payload, "access_count"),
		Scope: models.Scope{
			Tenant:  getString(payload, "tenant"),
			User:    getString(payload, "user"),
			Agent:   getString(payload, "agent"),
			Session: getString(payload, "session"),
			Project: getString(payload, "project"),
		},
		SupersededBy: getString(payload, "superseded_by"),
	}

	if ts := getString(payload, "created_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.CreatedAt = t
		}
	}
	if ts := getString(payload, "updated_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.UpdatedAt = t
		}
	}
	if ts := getString(payload, "expires_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.ExpiresAt = t
		}
	}
	if ts := getString(payload, "last_accessed"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.LastAccessed = t
		}
	}

	m.Tags = getStringList(payload, "tags")
	m.Entities = getStringList(payload, "entities")
	m.ConflictWith = getStringList(payload, "conflict_with")

	if s := getString(payload, "relations"); s != "" {
		_ = json.Unmarshal([]byte(s), &m.Relations)
	}
	if s := getString(payload, "extra_metadata"); s != "" {
		_ = json.Unmarshal([]byte(s), &m.ExtraMetadata)
	}
	if s := getString(payload, "milestone"); s != "" {
		var mf models.MilestoneFields
		if err := json.Unmarshal([]byte(s), &mf); err == nil {
			m.Milestone = &mf
		}
	}

	return m, nil
}

func buildFilter(scope models.Scope, f ports.VectorSearchFilter) *pb.Filter {
	conditions := []*pb.Condition{keywordCondition("scope_hash", scopeHash(scope))}

	if len(f.Status) > 0 {
		should := make([]*pb.Condition, len(f.Status))
		for i, s := range f.Status {
			should[i] = keywordCondition("status", string(s))
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: should}},
		})
	}
	if f.Category != "" {
		conditions = append(conditions, keywordCondition("category", string(f.Category)))
	}
	if f.Tag != "" {
		conditions = append(conditions, keywordCondition("tags", f.Tag))
	}
	if f.MinConfidence > 0 {
		gte := float64(f.MinConfidence)
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: "confidence", Range: &pb.Range{Gte: &gte}},
			},
		})
	}

	return &pb.Filter{Must: conditions}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}}},
		},
	}
}

func getString(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func getInt(payload map[string]*pb.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func getStringList(payload map[string]*pb.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	lv := v.GetListValue()
	if lv == nil {
		return nil
	}
	out := make([]string, 0, len(lv.GetValues()))
	for _, item := range lv.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

func scopeHash(scope models.Scope) string {
	return scope.Canonical()
}

// numericPointID derives a stable uint64 point ID from the hex fingerprint
// (Qdrant point IDs must be UUIDs or unsigned integers; the engine's
// content-addressed ID is neither, so the first 16 hex chars are reused as
// a numeric ID). Collisions are astronomically unlikely for a 64-bit
// truncation of a 128-bit fingerprint and, if they ever occurred, would
// simply overwrite an unrelated point within the same collection — the
// scope_hash/id payload fields remain authoritative for correctness.
func numericPointID(id string) uint64 {
	if len(id) < 16 {
		return simpleHash(id)
	}
	n, err := strconv.ParseUint(id[:16], 16, 64)
	if err != nil {
		return simpleHash(id)
	}
	return n
}

func simpleHash(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
