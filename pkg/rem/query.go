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

import "time"

// Mode is one of the five query modes. The set is closed.
type Mode string

const (
	ModeLookup   Mode = "LOOKUP"
	ModeFuzzy    Mode = "FUZZY"
	ModeSearch   Mode = "SEARCH"
	ModeSQL      Mode = "SQL"
	ModeTraverse Mode = "TRAVERSE"
)

// Defaults applied by the parser when a named parameter is omitted.
const (
	DefaultFuzzyThreshold  = 0.3
	DefaultFuzzyLimit      = 10
	DefaultSearchLimit     = 10
	DefaultMinSimilarity   = 0.0
	DefaultSQLLimit        = 50
	DefaultTraverseDepth   = 1
	MaxTraverseDepth       = 5
	maxContentSummaryChars = 512
)

// Query is a typed, parsed query object. The parser never executes;
// execution is the engine's job.
type Query interface {
	QueryMode() Mode
}

// LookupQuery resolves natural keys through the key-store in O(1) per key.
// Unknown keys yield empty results, not errors.
type LookupQuery struct {
	Keys []string
}

func (LookupQuery) QueryMode() Mode { return ModeLookup }

// FuzzyQuery ranks key-store rows by trigram similarity against the text.
type FuzzyQuery struct {
	QueryText string
	Threshold float64 // [0,1]
	Limit     int
}

func (FuzzyQuery) QueryMode() Mode { return ModeFuzzy }

// SearchQuery runs semantic vector search against an embeddable field.
type SearchQuery struct {
	QueryText     string
	Table         string
	Field         string // empty selects the table's default content field
	MinSimilarity float64
	Limit         int
	Provider      string // empty selects the engine's default provider
}

func (SearchQuery) QueryMode() Mode { return ModeSearch }

// SQLQuery applies a structured filter to an allow-listed entity table.
// The where clause is appended under parentheses with an implicit tenant
// and liveness conjunction; identifiers are never interpolated.
type SQLQuery struct {
	Table       string
	WhereClause string
	Limit       int
}

func (SQLQuery) QueryMode() Mode { return ModeSQL }

// TraverseQuery walks inline graph edges breadth-first from a start key.
// MaxDepth 0 is PLAN mode: edge-type cardinalities only, no expansion.
type TraverseQuery struct {
	InitialQuery string
	EdgeTypes    []string // empty or ["*"] means all
	MaxDepth     int
}

func (TraverseQuery) QueryMode() Mode { return ModeTraverse }

// WantsAllEdgeTypes reports whether the edge-type filter is a wildcard.
func (q TraverseQuery) WantsAllEdgeTypes() bool {
	if len(q.EdgeTypes) == 0 {
		return true
	}
	for _, t := range q.EdgeTypes {
		if t == "*" {
			return true
		}
	}
	return false
}

// KeyStoreEntry is the wire-stable key-store row shape consumed by LOOKUP,
// FUZZY, and cross-tool consumers.
type KeyStoreEntry struct {
	EntityKey      string                 `json:"entity_key"`
	EntityKind     Kind                   `json:"entity_kind"`
	EntityID       string                 `json:"entity_id"`
	UserID         string                 `json:"user_id,omitempty"`
	ContentSummary string                 `json:"content_summary"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Similarity is populated by FUZZY only.
	Similarity float64 `json:"similarity,omitempty"`
}

// SearchHit is one SEARCH result: the entity row joined back for display,
// with cosine distance translated to similarity in [0,1].
type SearchHit struct {
	EntityID   string                 `json:"entity_id"`
	Field      string                 `json:"field"`
	Similarity float64                `json:"similarity"`
	Row        map[string]interface{} `json:"row"`
}

// EdgeTypeSummary is one PLAN-mode row: an outgoing relationship label and
// its cardinality at the start node.
type EdgeTypeSummary struct {
	RelType string `json:"rel_type"`
	Count   int    `json:"count"`
}

// TraverseNode is one visited node in a depth ≥ 1 traversal.
type TraverseNode struct {
	Depth   int      `json:"depth"`
	Key     string   `json:"key"`
	Kind    Kind     `json:"kind"`
	RelType string   `json:"rel_type"` // the edge label that reached this node
	Weight  float64  `json:"weight"`
	Summary string   `json:"summary"`
	Path    []string `json:"path"` // ordered keys from the start node
}

// TraverseResult carries either the PLAN summary (depth 0) or visited nodes.
type TraverseResult struct {
	Start string            `json:"start"`
	Plan  []EdgeTypeSummary `json:"plan,omitempty"`
	Nodes []TraverseNode    `json:"nodes,omitempty"`
}

// Result is the uniform engine output across all five modes. Exactly one
// of the payload fields is populated, matching Mode.
type Result struct {
	Mode     Mode                     `json:"mode"`
	Entries  []KeyStoreEntry          `json:"entries,omitempty"`
	Hits     []SearchHit              `json:"hits,omitempty"`
	Rows     []map[string]interface{} `json:"rows,omitempty"`
	Traverse *TraverseResult          `json:"traverse,omitempty"`
}

// Count returns the number of result items regardless of mode.
func (r *Result) Count() int {
	switch r.Mode {
	case ModeLookup, ModeFuzzy:
		return len(r.Entries)
	case ModeSearch:
		return len(r.Hits)
	case ModeSQL:
		return len(r.Rows)
	case ModeTraverse:
		if r.Traverse == nil {
			return 0
		}
		if len(r.Traverse.Nodes) > 0 {
			return len(r.Traverse.Nodes)
		}
		return len(r.Traverse.Plan)
	default:
		return 0
	}
}
