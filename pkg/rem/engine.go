// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package rem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/types"
)

// Querier is the storage primitive the engine dispatches to. The storage
// adapter implements it; tests substitute fakes.
type Querier interface {
	// FetchMany runs a parameterized query and returns rows as column maps.
	FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// KeyStoreTable is the materialized (tenant, natural key, kind) → id
// mapping maintained by triggers. Application code reads it, never writes.
const KeyStoreTable = "rem_keystore"

// EngineConfig configures a query engine.
type EngineConfig struct {
	Store    Querier
	Registry *ModelRegistry

	// Embedder generates query-time embeddings for SEARCH. The provider
	// must match the one used at write time or distances are meaningless.
	Embedder types.EmbeddingProvider

	// EmbedModel is the embedding model identifier.
	EmbedModel string

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Engine executes the five query modes against the storage primitives.
type Engine struct {
	store      Querier
	registry   *ModelRegistry
	embedder   types.EmbeddingProvider
	embedModel string
	tracer     observability.Tracer
	logger     *zap.Logger
}

// NewEngine creates a query engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		store:      cfg.Store,
		registry:   cfg.Registry,
		embedder:   cfg.Embedder,
		embedModel: cfg.EmbedModel,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
	}, nil
}

// Registry returns the engine's model registry.
func (e *Engine) Registry() *ModelRegistry { return e.registry }

// Execute dispatches a typed query. Every mode is scoped by the request
// context's tenant and, when present, user.
func (e *Engine) Execute(ctx context.Context, rc types.RequestContext, q Query) (*Result, error) {
	rc = rc.Normalized()
	switch v := q.(type) {
	case LookupQuery:
		return e.Lookup(ctx, rc, v)
	case FuzzyQuery:
		return e.Fuzzy(ctx, rc, v)
	case SearchQuery:
		return e.Search(ctx, rc, v)
	case SQLQuery:
		return e.SQLFilter(ctx, rc, v)
	case TraverseQuery:
		return e.Traverse(ctx, rc, v)
	default:
		return nil, NewValidationError("unsupported query type %T", q)
	}
}

// ExecuteText parses dialect text and executes it.
func (e *Engine) ExecuteText(ctx context.Context, rc types.RequestContext, text string) (*Result, error) {
	q, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, rc, q)
}

// userScope builds the user visibility predicate. Anonymous scope matches
// shared rows only; an identified user also sees shared rows.
func userScope(rc types.RequestContext, column string, argIndex int) (string, []interface{}) {
	if rc.UserID == "" {
		return fmt.Sprintf("%s IS NULL", column), nil
	}
	return fmt.Sprintf("(%s = $%d OR %s IS NULL)", column, argIndex, column), []interface{}{rc.UserID}
}

// Lookup resolves keys through the key-store in a single round-trip.
// Results are concatenated in request order; unknown keys yield nothing.
func (e *Engine) Lookup(ctx context.Context, rc types.RequestContext, q LookupQuery) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "rem.lookup")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("keys", len(q.Keys))

	if len(q.Keys) == 0 {
		return &Result{Mode: ModeLookup}, nil
	}

	args := []interface{}{rc.TenantID, q.Keys}
	scope, scopeArgs := userScope(rc, "user_id", len(args)+1)
	args = append(args, scopeArgs...)

	sql := fmt.Sprintf(`
		SELECT entity_key, entity_kind, entity_id, user_id, content_summary, metadata, updated_at
		FROM %s
		WHERE tenant_id = $1 AND entity_key = ANY($2) AND deleted_at IS NULL AND %s`,
		KeyStoreTable, scope)

	rows, err := e.store.FetchMany(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		return nil, normalizeStoreError(err)
	}

	byKey := make(map[string][]KeyStoreEntry, len(rows))
	for _, row := range rows {
		entry := decodeKeyStoreRow(row)
		byKey[entry.EntityKey] = append(byKey[entry.EntityKey], entry)
	}

	result := &Result{Mode: ModeLookup}
	for _, key := range q.Keys {
		result.Entries = append(result.Entries, byKey[key]...)
	}
	span.SetAttribute("matched", len(result.Entries))
	return result, nil
}

// Fuzzy ranks key-store rows by trigram similarity, highest first, ties
// broken by updated_at descending. The similarity operator is the store's.
func (e *Engine) Fuzzy(ctx context.Context, rc types.RequestContext, q FuzzyQuery) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "rem.fuzzy")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("threshold", q.Threshold)

	if q.Limit <= 0 {
		q.Limit = DefaultFuzzyLimit
	}

	args := []interface{}{rc.TenantID, q.QueryText, q.Threshold}
	scope, scopeArgs := userScope(rc, "user_id", len(args)+1)
	args = append(args, scopeArgs...)
	args = append(args, q.Limit)

	sql := fmt.Sprintf(`
		SELECT entity_key, entity_kind, entity_id, user_id, content_summary, metadata, updated_at,
		       similarity(entity_key, $2) AS sim
		FROM %s
		WHERE tenant_id = $1 AND deleted_at IS NULL
		  AND similarity(entity_key, $2) >= $3 AND %s
		ORDER BY sim DESC, updated_at DESC
		LIMIT $%d`,
		KeyStoreTable, scope, len(args))

	rows, err := e.store.FetchMany(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		return nil, normalizeStoreError(err)
	}

	result := &Result{Mode: ModeFuzzy}
	for _, row := range rows {
		entry := decodeKeyStoreRow(row)
		entry.Similarity = toFloat(row["sim"])
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

// Search runs cosine top-K against the sibling embeddings table and joins
// back to the entity table for display. Distance translates to similarity
// in [0,1]; ordering is deterministic for a given index state.
func (e *Engine) Search(ctx context.Context, rc types.RequestContext, q SearchQuery) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "rem.search")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("table", q.Table)

	desc, ok := e.registry.ByTable(q.Table)
	if !ok {
		return nil, NewValidationError("unknown table %q", q.Table)
	}

	field := q.Field
	if field == "" {
		var err error
		if field, err = desc.DefaultContentField(); err != nil {
			return nil, err
		}
	}
	fd, ok := desc.Field(field)
	if !ok {
		return nil, NewFieldNotFoundError(q.Table, field)
	}
	if !fd.Embeddable {
		return nil, NewEmbeddingFieldNotFoundError(q.Table, field)
	}

	if e.embedder == nil {
		return nil, NewProviderError("embedding", fmt.Errorf("no embedding provider configured"))
	}
	provider := q.Provider
	if provider == "" {
		provider = e.embedder.Name()
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}

	vectors, err := e.embedder.Embed(ctx, []string{q.QueryText}, e.embedModel)
	if err != nil {
		span.RecordError(err)
		return nil, NewProviderError(provider, err)
	}
	vec := pgvector.NewVector(vectors[0])

	args := []interface{}{vec, field, provider, rc.TenantID, q.MinSimilarity}
	scope, scopeArgs := userScope(rc, "t.user_id", len(args)+1)
	args = append(args, scopeArgs...)
	args = append(args, q.Limit)

	sql := fmt.Sprintf(`
		SELECT t.*, e.entity_id AS embed_entity_id, 1 - (e.embedding <=> $1) AS similarity
		FROM embeddings_%s e
		JOIN %s t ON t.id = e.entity_id
		WHERE e.field_name = $2 AND e.provider = $3
		  AND t.tenant_id = $4 AND t.deleted_at IS NULL
		  AND 1 - (e.embedding <=> $1) >= $5 AND %s
		ORDER BY e.embedding <=> $1 ASC, e.entity_id ASC
		LIMIT $%d`,
		q.Table, q.Table, scope, len(args))

	rows, err := e.store.FetchMany(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		return nil, normalizeStoreError(err)
	}

	result := &Result{Mode: ModeSearch}
	for _, row := range rows {
		hit := SearchHit{
			EntityID:   toString(row["embed_entity_id"]),
			Field:      field,
			Similarity: toFloat(row["similarity"]),
			Row:        row,
		}
		if hit.EntityID == "" {
			hit.EntityID = toString(row["id"])
		}
		delete(row, "embed_entity_id")
		delete(row, "similarity")
		result.Hits = append(result.Hits, hit)
	}
	span.SetAttribute("hits", len(result.Hits))
	return result, nil
}

// SQLFilter applies a caller-supplied where clause to an allow-listed
// entity table under the implicit tenant and liveness conjunction. This
// mode serves temporal and categorical filters the other modes cannot.
func (e *Engine) SQLFilter(ctx context.Context, rc types.RequestContext, q SQLQuery) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "rem.sql")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("table", q.Table)

	if _, ok := e.registry.ByTable(q.Table); !ok {
		return nil, NewValidationError("unknown table %q", q.Table)
	}
	clause := strings.TrimSpace(q.WhereClause)
	if clause == "" {
		return nil, NewValidationError("empty where clause")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSQLLimit
	}

	args := []interface{}{rc.TenantID}
	scope, scopeArgs := userScope(rc, "user_id", len(args)+1)
	args = append(args, scopeArgs...)
	args = append(args, q.Limit)

	sql := fmt.Sprintf(`
		SELECT * FROM %s
		WHERE tenant_id = $1 AND deleted_at IS NULL AND %s AND (%s)
		ORDER BY created_at DESC
		LIMIT $%d`,
		q.Table, scope, clause, len(args))

	rows, err := e.store.FetchMany(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		return nil, normalizeStoreError(err)
	}
	return &Result{Mode: ModeSQL, Rows: rows}, nil
}

// graphNode is a resolved traversal node: key-store identity plus the
// entity row's inline edges.
type graphNode struct {
	key     string
	kind    Kind
	id      string
	summary string
	edges   []GraphEdge
}

// Traverse walks inline edges breadth-first. Depth 0 is PLAN mode: a
// summary of outgoing edge types and cardinalities at the start node,
// without following them.
func (e *Engine) Traverse(ctx context.Context, rc types.RequestContext, q TraverseQuery) (*Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "rem.traverse")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("start", q.InitialQuery)
	span.SetAttribute("depth", q.MaxDepth)

	depth := q.MaxDepth
	if depth > MaxTraverseDepth {
		depth = MaxTraverseDepth
		span.SetAttribute("depth_clamped", true)
	}

	startNodes, err := e.fetchGraphNodes(ctx, rc, []string{q.InitialQuery})
	if err != nil {
		return nil, err
	}
	start, ok := startNodes[q.InitialQuery]
	if !ok {
		// Unknown start key: empty traversal, consistent with LOOKUP.
		return &Result{Mode: ModeTraverse, Traverse: &TraverseResult{Start: q.InitialQuery}}, nil
	}

	allowed := func(relType string) bool {
		if q.WantsAllEdgeTypes() {
			return true
		}
		for _, t := range q.EdgeTypes {
			if t == relType {
				return true
			}
		}
		return false
	}

	result := &TraverseResult{Start: q.InitialQuery}

	if depth == 0 {
		counts := make(map[string]int)
		for _, edge := range start.edges {
			if allowed(edge.RelType) {
				counts[edge.RelType]++
			}
		}
		for relType, count := range counts {
			result.Plan = append(result.Plan, EdgeTypeSummary{RelType: relType, Count: count})
		}
		sort.Slice(result.Plan, func(i, j int) bool {
			if result.Plan[i].Count != result.Plan[j].Count {
				return result.Plan[i].Count > result.Plan[j].Count
			}
			return result.Plan[i].RelType < result.Plan[j].RelType
		})
		return &Result{Mode: ModeTraverse, Traverse: result}, nil
	}

	type frontierEntry struct {
		node *graphNode
		path []string
	}

	visited := map[string]bool{visitKey(start.kind, start.key): true}
	frontier := []frontierEntry{{node: start, path: []string{start.key}}}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		type pendingEdge struct {
			edge GraphEdge
			path []string
		}
		var pending []pendingEdge
		var wanted []string

		for _, entry := range frontier {
			edges := append([]GraphEdge(nil), entry.node.edges...)
			// Within a depth level: weight descending, then rel_type ascending.
			sort.SliceStable(edges, func(i, j int) bool {
				if edges[i].Weight != edges[j].Weight {
					return edges[i].Weight > edges[j].Weight
				}
				return edges[i].RelType < edges[j].RelType
			})
			for _, edge := range edges {
				if !allowed(edge.RelType) {
					continue
				}
				pending = append(pending, pendingEdge{edge: edge, path: entry.path})
				wanted = append(wanted, edge.Dst)
			}
		}
		if len(pending) == 0 {
			break
		}

		nodes, err := e.fetchGraphNodes(ctx, rc, dedupe(wanted))
		if err != nil {
			return nil, err
		}

		var next []frontierEntry
		for _, p := range pending {
			node, ok := nodes[p.edge.Dst]
			if !ok {
				// Dangling edge or soft-deleted target: skipped, and not
				// expanded through.
				continue
			}
			vk := visitKey(node.kind, node.key)
			if visited[vk] {
				continue
			}
			visited[vk] = true

			path := append(append([]string(nil), p.path...), node.key)
			result.Nodes = append(result.Nodes, TraverseNode{
				Depth:   level,
				Key:     node.key,
				Kind:    node.kind,
				RelType: p.edge.RelType,
				Weight:  p.edge.Weight,
				Summary: node.summary,
				Path:    path,
			})
			next = append(next, frontierEntry{node: node, path: path})
		}
		frontier = next
	}

	span.SetAttribute("nodes", len(result.Nodes))
	return &Result{Mode: ModeTraverse, Traverse: result}, nil
}

// fetchGraphNodes resolves natural keys through the key-store and loads
// each entity row's inline edges. Soft-deleted targets are absent from
// the returned map.
func (e *Engine) fetchGraphNodes(ctx context.Context, rc types.RequestContext, keys []string) (map[string]*graphNode, error) {
	if len(keys) == 0 {
		return map[string]*graphNode{}, nil
	}

	lookup, err := e.Lookup(ctx, rc, LookupQuery{Keys: keys})
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*graphNode, len(lookup.Entries))
	idsByTable := make(map[string][]string)
	nodeByID := make(map[string]*graphNode)

	for i := range lookup.Entries {
		entry := lookup.Entries[i]
		if _, dup := nodes[entry.EntityKey]; dup {
			continue
		}
		desc, ok := e.registry.ByKind(entry.EntityKind)
		if !ok {
			continue
		}
		node := &graphNode{
			key:     entry.EntityKey,
			kind:    entry.EntityKind,
			id:      entry.EntityID,
			summary: entry.ContentSummary,
		}
		nodes[entry.EntityKey] = node
		nodeByID[entry.EntityID] = node
		idsByTable[desc.Table] = append(idsByTable[desc.Table], entry.EntityID)
	}

	for table, ids := range idsByTable {
		sql := fmt.Sprintf(
			"SELECT id, graph_edges FROM %s WHERE id = ANY($1) AND deleted_at IS NULL", table)
		rows, err := e.store.FetchMany(ctx, sql, ids)
		if err != nil {
			return nil, normalizeStoreError(err)
		}
		for _, row := range rows {
			if node, ok := nodeByID[toString(row["id"])]; ok {
				node.edges = decodeEdges(row["graph_edges"])
			}
		}
	}

	return nodes, nil
}

func visitKey(kind Kind, key string) string {
	return string(kind) + "\x00" + key
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// normalizeStoreError passes typed errors through and wraps anything else
// as a query-execution failure.
func normalizeStoreError(err error) error {
	if CodeOf(err) != "" {
		return err
	}
	return NewQueryExecutionError(err)
}

func decodeKeyStoreRow(row map[string]interface{}) KeyStoreEntry {
	entry := KeyStoreEntry{
		EntityKey:      toString(row["entity_key"]),
		EntityKind:     Kind(toString(row["entity_kind"])),
		EntityID:       toString(row["entity_id"]),
		UserID:         toString(row["user_id"]),
		ContentSummary: toString(row["content_summary"]),
	}
	if m, ok := row["metadata"].(map[string]interface{}); ok {
		entry.Metadata = m
	} else if raw := decodeJSON(row["metadata"]); raw != nil {
		if m, ok := raw.(map[string]interface{}); ok {
			entry.Metadata = m
		}
	}
	if ts, ok := row["updated_at"].(time.Time); ok {
		entry.UpdatedAt = ts
	}
	return entry
}

// decodeEdges tolerates the three shapes JSONB columns come back as:
// decoded slices, raw JSON bytes, or JSON text.
func decodeEdges(v interface{}) []GraphEdge {
	raw := decodeJSON(v)
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var edges []GraphEdge
	if err := json.Unmarshal(data, &edges); err != nil {
		return nil
	}
	return edges
}

func decodeJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		var out interface{}
		if err := json.Unmarshal(t, &out); err != nil {
			return nil
		}
		return out
	case string:
		var out interface{}
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil
		}
		return out
	default:
		return v
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}
