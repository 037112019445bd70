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
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/types"
)

// QueryEngine executes memory-dialect text. *rem.Engine implements it.
type QueryEngine interface {
	ExecuteText(ctx context.Context, rc types.RequestContext, text string) (*rem.Result, error)
}

// EntityStore is the write-and-fetch surface the memory tools need.
// *storage.Adapter implements it.
type EntityStore interface {
	Upsert(ctx context.Context, rc types.RequestContext, entities ...rem.Entity) ([]string, error)
	FetchOne(ctx context.Context, sql string, args ...interface{}) (map[string]interface{}, error)
	FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
	Execute(ctx context.Context, sql string, args ...interface{}) (int64, error)
}

// QueryPlan is a natural-language question translated into dialect text.
type QueryPlan struct {
	Query      string  `json:"query"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// QueryPlanner turns a natural-language question into a QueryPlan. The
// agent package provides the LLM-backed implementation.
type QueryPlanner interface {
	Plan(ctx context.Context, question string) (*QueryPlan, error)
}

// DefaultExecuteThreshold is the planner confidence below which the ask
// tool returns the plan for review instead of executing it.
const DefaultExecuteThreshold = 0.7

// MemoryToolsConfig wires the built-in memory tools.
type MemoryToolsConfig struct {
	Engine   QueryEngine
	Store    EntityStore
	Registry *rem.ModelRegistry

	// Planner backs the ask tool. Nil disables it.
	Planner QueryPlanner

	// ExecuteThreshold overrides DefaultExecuteThreshold when > 0.
	ExecuteThreshold float64
}

// RegisterMemoryTools registers the built-in memory tools on the registry.
func RegisterMemoryTools(r *Registry, cfg MemoryToolsConfig) error {
	if cfg.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = rem.DefaultRegistry()
	}
	threshold := cfg.ExecuteThreshold
	if threshold <= 0 {
		threshold = DefaultExecuteThreshold
	}

	r.Register(&QueryTool{engine: cfg.Engine})
	r.Register(&CreateResourceTool{store: cfg.Store})
	r.Register(&CreateMomentTool{store: cfg.Store})
	r.Register(&UpdateGraphEdgesTool{store: cfg.Store, registry: cfg.Registry})
	r.Register(&UploadFileTool{store: cfg.Store})
	r.Register(&GetFileTool{store: cfg.Store})
	r.Register(&SearchToolsTool{registry: r})
	if cfg.Planner != nil {
		r.Register(&AskTool{engine: cfg.Engine, planner: cfg.Planner, threshold: threshold})
	}
	return nil
}

// QueryTool executes memory-dialect queries directly.
type QueryTool struct {
	engine QueryEngine
}

func (t *QueryTool) Name() string { return "rem_query" }

func (t *QueryTool) Description() string {
	return "Query the memory store using the REM dialect. Modes: " +
		"LOOKUP <key>[,<key>...] resolves exact natural keys; " +
		"FUZZY <text> [threshold=0.3] [limit=10] matches keys and summaries by similarity; " +
		"SEARCH <text> table=<t> [field=<f>] [limit=10] runs semantic vector search; " +
		"SQL table=<t> where=\"<clause>\" [limit=100] filters one entity table; " +
		"TRAVERSE <key> [rel_type=<r>[,<r>]] [depth=1] walks graph edges (depth=0 lists edge types). " +
		"Examples: FUZZY sarah chen | SEARCH standing meetings table=messages | " +
		"SQL table=resources where=\"category = 'work'\" | TRAVERSE person:sarah@x.com rel_type=knows depth=2"
}

func (t *QueryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The dialect query text, e.g. \"FUZZY sarah chen\"",
			},
		},
		"required": []string{"query"},
	}
}

func (t *QueryTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return ErrorResult(err), nil
	}

	rc := types.RequestContextFrom(ctx)
	res, err := t.engine.ExecuteText(ctx, rc, query)
	if err != nil {
		return ErrorResult(fmt.Errorf("query failed: %w", err)), nil
	}
	if res.Count() == 0 {
		return TextResult("no results"), nil
	}
	return JSONResult(res), nil
}

// AskTool answers natural-language questions by planning a dialect query
// and executing it when the planner is confident enough.
type AskTool struct {
	engine    QueryEngine
	planner   QueryPlanner
	threshold float64
}

func (t *AskTool) Name() string { return "rem_ask" }

func (t *AskTool) Description() string {
	return "Ask a natural-language question about stored memory. The question is " +
		"translated into a dialect query and executed when the translation is confident; " +
		"otherwise the proposed query is returned for review."
}

func (t *AskTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The question, e.g. \"what do we know about the Q3 launch?\"",
			},
		},
		"required": []string{"question"},
	}
}

func (t *AskTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	question, err := stringArg(args, "question")
	if err != nil {
		return ErrorResult(err), nil
	}

	plan, err := t.planner.Plan(ctx, question)
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to plan query: %w", err)), nil
	}

	if plan.Confidence < t.threshold {
		return JSONResult(map[string]interface{}{
			"executed":   false,
			"plan":       plan,
			"suggestion": "confidence below threshold; rephrase the question or run the proposed query with rem_query",
		}), nil
	}

	rc := types.RequestContextFrom(ctx)
	res, err := t.engine.ExecuteText(ctx, rc, plan.Query)
	if err != nil {
		return ErrorResult(fmt.Errorf("planned query %q failed: %w", plan.Query, err)), nil
	}
	return JSONResult(map[string]interface{}{
		"executed": true,
		"plan":     plan,
		"result":   res,
	}), nil
}

// CreateResourceTool persists a knowledge resource.
type CreateResourceTool struct {
	store EntityStore
}

func (t *CreateResourceTool) Name() string { return "rem_create_resource" }

func (t *CreateResourceTool) Description() string {
	return "Store a knowledge resource (fact, note, document chunk) in memory, " +
		"addressable later by its URI."
}

func (t *CreateResourceTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"uri":      map[string]interface{}{"type": "string", "description": "Stable natural key, e.g. \"person:sarah-chen\""},
			"content":  map[string]interface{}{"type": "string", "description": "The resource body"},
			"name":     map[string]interface{}{"type": "string", "description": "Human-readable display name"},
			"category": map[string]interface{}{"type": "string", "description": "Free-form category label"},
			"tags":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"related_entities": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Natural keys of related entities",
			},
		},
		"required": []string{"uri", "content"},
	}
}

func (t *CreateResourceTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	uri, err := stringArg(args, "uri")
	if err != nil {
		return ErrorResult(err), nil
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return ErrorResult(err), nil
	}

	res := &rem.Resource{
		URI:             uri,
		Content:         content,
		Name:            optStringArg(args, "name"),
		Category:        optStringArg(args, "category"),
		RelatedEntities: optStringsArg(args, "related_entities"),
	}
	res.Tags = optStringsArg(args, "tags")
	res.Metadata = optMapArg(args, "metadata")

	rc := types.RequestContextFrom(ctx)
	ids, err := t.store.Upsert(ctx, rc, res)
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to store resource: %w", err)), nil
	}
	return JSONResult(map[string]interface{}{"id": ids[0], "key": res.NaturalKey()}), nil
}

// CreateMomentTool persists an episodic moment.
type CreateMomentTool struct {
	store EntityStore
}

func (t *CreateMomentTool) Name() string { return "rem_create_moment" }

func (t *CreateMomentTool) Description() string {
	return "Record an episodic moment: a named summary of a bounded stretch of " +
		"conversation or experience, linked to prior moments."
}

func (t *CreateMomentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":    map[string]interface{}{"type": "string", "description": "Unique moment name, e.g. \"2026-08-24-planning-q3-launch\""},
			"summary": map[string]interface{}{"type": "string", "description": "What happened, in a few sentences"},
			"topic_tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"emotion_tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"present_persons": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"previous_moment_keys": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Names of moments this one continues from",
			},
		},
		"required": []string{"name", "summary"},
	}
}

func (t *CreateMomentTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return ErrorResult(err), nil
	}
	summary, err := stringArg(args, "summary")
	if err != nil {
		return ErrorResult(err), nil
	}

	rc := types.RequestContextFrom(ctx)
	now := time.Now().UTC()
	m := &rem.Moment{
		Name:               name,
		Summary:            summary,
		TopicTags:          optStringsArg(args, "topic_tags"),
		EmotionTags:        optStringsArg(args, "emotion_tags"),
		PresentPersons:     optStringsArg(args, "present_persons"),
		PreviousMomentKeys: optStringsArg(args, "previous_moment_keys"),
		SourceSessionID:    rc.SessionID,
		StartsTS:           &now,
		EndsTS:             &now,
	}

	ids, err := t.store.Upsert(ctx, rc, m)
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to store moment: %w", err)), nil
	}
	return JSONResult(map[string]interface{}{"id": ids[0], "key": m.NaturalKey()}), nil
}

// UpdateGraphEdgesTool merges edges into an entity's inline graph.
type UpdateGraphEdgesTool struct {
	store    EntityStore
	registry *rem.ModelRegistry
}

func (t *UpdateGraphEdgesTool) Name() string { return "rem_update_graph_edges" }

func (t *UpdateGraphEdgesTool) Description() string {
	return "Add or update graph edges from one entity to others, identified by " +
		"natural keys. Existing edges with the same destination and relationship " +
		"type are replaced."
}

func (t *UpdateGraphEdgesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{"type": "string", "description": "Natural key of the source entity"},
			"edges": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"dst":      map[string]interface{}{"type": "string", "description": "Destination natural key"},
						"rel_type": map[string]interface{}{"type": "string", "description": "Relationship label, e.g. \"references\""},
						"weight":   map[string]interface{}{"type": "number", "description": "Edge strength in [0,1]"},
					},
					"required": []string{"dst", "rel_type"},
				},
			},
		},
		"required": []string{"key", "edges"},
	}
}

func (t *UpdateGraphEdgesTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return ErrorResult(err), nil
	}
	newEdges, err := parseEdgeArgs(args["edges"])
	if err != nil {
		return ErrorResult(err), nil
	}
	if len(newEdges) == 0 {
		return ErrorResult(fmt.Errorf("edges must contain at least one entry")), nil
	}

	rc := types.RequestContextFrom(ctx)
	kind, id, err := t.resolveKey(ctx, rc, key)
	if err != nil {
		return ErrorResult(err), nil
	}
	desc, ok := t.registry.ByKind(kind)
	if !ok {
		return ErrorResult(fmt.Errorf("unknown entity kind %q for key %q", kind, key)), nil
	}

	row, err := t.store.FetchOne(ctx,
		fmt.Sprintf("SELECT graph_edges FROM %s WHERE id = $1 AND deleted_at IS NULL", desc.Table), id)
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to load entity %q: %w", key, err)), nil
	}
	existing, err := decodeEdges(row["graph_edges"])
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to decode graph edges for %q: %w", key, err)), nil
	}

	merged := mergeEdges(existing, newEdges)
	payload, err := json.Marshal(merged)
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to encode graph edges: %w", err)), nil
	}

	if _, err := t.store.Execute(ctx,
		fmt.Sprintf("UPDATE %s SET graph_edges = $1, updated_at = NOW() WHERE id = $2", desc.Table),
		payload, id); err != nil {
		return ErrorResult(fmt.Errorf("failed to update graph edges for %q: %w", key, err)), nil
	}

	return JSONResult(map[string]interface{}{
		"key":         key,
		"edge_count":  len(merged),
		"added_edges": len(newEdges),
	}), nil
}

// resolveKey maps a natural key to (kind, id) through the key-store.
func (t *UpdateGraphEdgesTool) resolveKey(ctx context.Context, rc types.RequestContext, key string) (rem.Kind, string, error) {
	row, err := t.store.FetchOne(ctx,
		"SELECT entity_kind, entity_id FROM "+rem.KeyStoreTable+
			" WHERE tenant_id = $1 AND entity_key = $2 AND deleted_at IS NULL",
		rc.Normalized().TenantID, key)
	if err != nil {
		return "", "", fmt.Errorf("key %q not found: %w", key, err)
	}
	kind, _ := row["entity_kind"].(string)
	id, _ := row["entity_id"].(string)
	if kind == "" || id == "" {
		return "", "", fmt.Errorf("key %q resolved to an incomplete key-store row", key)
	}
	return rem.Kind(kind), id, nil
}

func parseEdgeArgs(raw interface{}) ([]rem.GraphEdge, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("edges must be an array of objects")
	}
	now := time.Now().UTC()
	out := make([]rem.GraphEdge, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("edge %d must be an object", i)
		}
		dst, _ := m["dst"].(string)
		relType, _ := m["rel_type"].(string)
		if dst == "" || relType == "" {
			return nil, fmt.Errorf("edge %d needs dst and rel_type", i)
		}
		weight := optFloatArg(m, "weight", 1.0)
		if weight < 0 {
			weight = 0
		}
		if weight > 1 {
			weight = 1
		}
		out = append(out, rem.GraphEdge{
			Dst:        dst,
			RelType:    relType,
			Weight:     weight,
			Properties: optMapArg(m, "properties"),
			CreatedAt:  now,
		})
	}
	return out, nil
}

// decodeEdges normalizes the driver's JSONB representation.
func decodeEdges(v interface{}) ([]rem.GraphEdge, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var edges []rem.GraphEdge
	if err := json.Unmarshal(raw, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// mergeEdges replaces edges matching on (dst, rel_type) and appends the rest.
func mergeEdges(existing, updates []rem.GraphEdge) []rem.GraphEdge {
	type edgeKey struct{ dst, rel string }
	index := make(map[edgeKey]int, len(existing))
	merged := make([]rem.GraphEdge, len(existing))
	copy(merged, existing)
	for i, e := range merged {
		index[edgeKey{e.Dst, e.RelType}] = i
	}
	for _, u := range updates {
		if i, ok := index[edgeKey{u.Dst, u.RelType}]; ok {
			merged[i] = u
			continue
		}
		index[edgeKey{u.Dst, u.RelType}] = len(merged)
		merged = append(merged, u)
	}
	return merged
}

// UploadFileTool records an uploaded file in pending state.
type UploadFileTool struct {
	store EntityStore
}

func (t *UploadFileTool) Name() string { return "rem_upload_file" }

func (t *UploadFileTool) Description() string {
	return "Register an uploaded file for processing. The file starts in pending " +
		"status; ingestion moves it through processing to completed or failed."
}

func (t *UploadFileTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"uri":        map[string]interface{}{"type": "string", "description": "File URI, e.g. \"file://reports/q3.pdf\""},
			"name":       map[string]interface{}{"type": "string"},
			"mime_type":  map[string]interface{}{"type": "string"},
			"size_bytes": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"uri"},
	}
}

func (t *UploadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	uri, err := stringArg(args, "uri")
	if err != nil {
		return ErrorResult(err), nil
	}

	f := &rem.File{
		URI:              uri,
		Name:             optStringArg(args, "name"),
		MimeType:         optStringArg(args, "mime_type"),
		SizeBytes:        int64(optFloatArg(args, "size_bytes", 0)),
		ProcessingStatus: rem.FilePending,
	}

	rc := types.RequestContextFrom(ctx)
	ids, err := t.store.Upsert(ctx, rc, f)
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to register file: %w", err)), nil
	}
	return JSONResult(map[string]interface{}{
		"id":     ids[0],
		"key":    f.NaturalKey(),
		"status": string(rem.FilePending),
	}), nil
}

// GetFileTool fetches a file record by URI.
type GetFileTool struct {
	store EntityStore
}

func (t *GetFileTool) Name() string { return "rem_get_file" }

func (t *GetFileTool) Description() string {
	return "Fetch an uploaded file's record and processing status by URI."
}

func (t *GetFileTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"uri": map[string]interface{}{"type": "string", "description": "The file URI"},
		},
		"required": []string{"uri"},
	}
}

func (t *GetFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	uri, err := stringArg(args, "uri")
	if err != nil {
		return ErrorResult(err), nil
	}

	rc := types.RequestContextFrom(ctx).Normalized()
	row, err := t.store.FetchOne(ctx,
		"SELECT id, uri, name, mime_type, size_bytes, processing_status, created_at, updated_at"+
			" FROM files WHERE tenant_id = $1 AND uri = $2 AND deleted_at IS NULL",
		rc.TenantID, uri)
	if err != nil {
		return ErrorResult(fmt.Errorf("file %q not found: %w", uri, err)), nil
	}
	return JSONResult(row), nil
}

// SearchToolsTool lets the model discover other tools by description.
type SearchToolsTool struct {
	registry *Registry
}

func (t *SearchToolsTool) Name() string { return "rem_search_tools" }

func (t *SearchToolsTool) Description() string {
	return "Search the available tools by name or purpose."
}

func (t *SearchToolsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "What you want to do, e.g. \"store a fact\""},
			"limit": map[string]interface{}{"type": "integer", "description": "Maximum results (default 5)"},
		},
		"required": []string{"query"},
	}
}

func (t *SearchToolsTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return ErrorResult(err), nil
	}
	limit := int(optFloatArg(args, "limit", 5))

	matches := t.registry.Search(query, limit)
	if len(matches) == 0 {
		return TextResult("no matching tools"), nil
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s: %s\n", m.Name(), m.Description())
	}
	return TextResult(strings.TrimRight(b.String(), "\n")), nil
}
