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
	"fmt"
	"sort"
)

// FieldDescriptor describes one distinctive column of an entity table.
// The envelope columns (id, tenant_id, user_id, timestamps, metadata, tags,
// graph_edges) are implicit on every table and not listed here.
type FieldDescriptor struct {
	// Name is the column name.
	Name string

	// SQLType is the Postgres column type (TEXT, BIGINT, TIMESTAMPTZ, JSONB).
	SQLType string

	// Nullable permits NULL values.
	Nullable bool

	// Embeddable fields get a sibling embeddings row maintained by the
	// embedding worker and are valid targets for SEARCH.
	Embeddable bool

	// DefaultContent marks the field SEARCH uses when none is named.
	DefaultContent bool

	// NaturalKey marks membership in the composite natural-key index.
	NaturalKey bool
}

// EntityDescriptor describes one entity kind: its table, distinctive
// fields, and how the key-store trigger derives the natural key and the
// content summary from a row.
type EntityDescriptor struct {
	Kind  Kind
	Table string

	Fields []FieldDescriptor

	// KeyExpr is the SQL expression (over NEW.*) producing the natural key
	// for the key-store trigger.
	KeyExpr string

	// SummaryExpr is the SQL expression producing the key-store
	// content_summary, truncated by the trigger.
	SummaryExpr string

	// New constructs an empty entity of this kind for decoding.
	New func() Entity
}

// FieldNames returns the distinctive column names in declaration order.
func (d *EntityDescriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Field returns the descriptor for a column, if declared.
func (d *EntityDescriptor) Field(name string) (FieldDescriptor, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// DefaultContentField returns the SEARCH default field, or an error when
// the table exposes none.
func (d *EntityDescriptor) DefaultContentField() (string, error) {
	for _, f := range d.Fields {
		if f.DefaultContent {
			return f.Name, nil
		}
	}
	return "", NewContentFieldNotFoundError(d.Table)
}

// NaturalKeyColumns returns the columns of the composite natural key.
func (d *EntityDescriptor) NaturalKeyColumns() []string {
	var cols []string
	for _, f := range d.Fields {
		if f.NaturalKey {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// ModelRegistry is the process-wide set of entity descriptors, populated at
// startup and read-only thereafter. Both the schema generator and the query
// engine consume it.
type ModelRegistry struct {
	byKind  map[Kind]*EntityDescriptor
	byTable map[string]*EntityDescriptor
}

// NewModelRegistry builds a registry from descriptors.
func NewModelRegistry(descriptors ...*EntityDescriptor) (*ModelRegistry, error) {
	r := &ModelRegistry{
		byKind:  make(map[Kind]*EntityDescriptor),
		byTable: make(map[string]*EntityDescriptor),
	}
	for _, d := range descriptors {
		if _, dup := r.byKind[d.Kind]; dup {
			return nil, fmt.Errorf("duplicate descriptor for kind %q", d.Kind)
		}
		if _, dup := r.byTable[d.Table]; dup {
			return nil, fmt.Errorf("duplicate descriptor for table %q", d.Table)
		}
		r.byKind[d.Kind] = d
		r.byTable[d.Table] = d
	}
	return r, nil
}

// ByKind returns the descriptor for a kind.
func (r *ModelRegistry) ByKind(kind Kind) (*EntityDescriptor, bool) {
	d, ok := r.byKind[kind]
	return d, ok
}

// ByTable returns the descriptor for a table. This doubles as the SQL-mode
// allow-list: unknown tables are rejected.
func (r *ModelRegistry) ByTable(table string) (*EntityDescriptor, bool) {
	d, ok := r.byTable[table]
	return d, ok
}

// Tables returns the declared table names, sorted for deterministic
// schema generation.
func (r *ModelRegistry) Tables() []string {
	tables := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Descriptors returns all descriptors ordered by table name.
func (r *ModelRegistry) Descriptors() []*EntityDescriptor {
	out := make([]*EntityDescriptor, 0, len(r.byTable))
	for _, t := range r.Tables() {
		out = append(out, r.byTable[t])
	}
	return out
}

// DefaultRegistry returns the registry of the six built-in entity kinds.
func DefaultRegistry() *ModelRegistry {
	r, err := NewModelRegistry(
		&EntityDescriptor{
			Kind:  KindResource,
			Table: "resources",
			Fields: []FieldDescriptor{
				{Name: "uri", SQLType: "TEXT", NaturalKey: true},
				{Name: "ordinal", SQLType: "BIGINT", NaturalKey: true},
				{Name: "name", SQLType: "TEXT", Nullable: true},
				{Name: "content", SQLType: "TEXT", Nullable: true, Embeddable: true, DefaultContent: true},
				{Name: "timestamp", SQLType: "TIMESTAMPTZ", Nullable: true},
				{Name: "category", SQLType: "TEXT", Nullable: true},
				{Name: "related_entities", SQLType: "JSONB", Nullable: true},
			},
			KeyExpr:     "CASE WHEN NEW.ordinal = 0 THEN NEW.uri ELSE NEW.uri || '#' || NEW.ordinal END",
			SummaryExpr: "COALESCE(NEW.name, '') || ' ' || COALESCE(NEW.content, '')",
			New:         func() Entity { return &Resource{} },
		},
		&EntityDescriptor{
			Kind:  KindMessage,
			Table: "messages",
			Fields: []FieldDescriptor{
				{Name: "session_id", SQLType: "TEXT"},
				{Name: "content", SQLType: "TEXT", Embeddable: true, DefaultContent: true},
				{Name: "message_type", SQLType: "TEXT"},
			},
			KeyExpr:     "NEW.id::text",
			SummaryExpr: "NEW.content",
			New:         func() Entity { return &Message{} },
		},
		&EntityDescriptor{
			Kind:  KindMoment,
			Table: "moments",
			Fields: []FieldDescriptor{
				{Name: "name", SQLType: "TEXT", NaturalKey: true},
				{Name: "summary", SQLType: "TEXT", Nullable: true, Embeddable: true, DefaultContent: true},
				{Name: "starts_ts", SQLType: "TIMESTAMPTZ", Nullable: true},
				{Name: "ends_ts", SQLType: "TIMESTAMPTZ", Nullable: true},
				{Name: "present_persons", SQLType: "JSONB", Nullable: true},
				{Name: "emotion_tags", SQLType: "JSONB", Nullable: true},
				{Name: "topic_tags", SQLType: "JSONB", Nullable: true},
				{Name: "previous_moment_keys", SQLType: "JSONB", Nullable: true},
				{Name: "source_session_id", SQLType: "TEXT", Nullable: true},
			},
			KeyExpr:     "NEW.name",
			SummaryExpr: "NEW.summary",
			New:         func() Entity { return &Moment{} },
		},
		&EntityDescriptor{
			Kind:  KindUser,
			Table: "users",
			Fields: []FieldDescriptor{
				{Name: "email", SQLType: "TEXT", NaturalKey: true},
				{Name: "name", SQLType: "TEXT", Nullable: true},
				{Name: "tier", SQLType: "TEXT", Nullable: true},
				{Name: "summary", SQLType: "TEXT", Nullable: true, Embeddable: true, DefaultContent: true},
				{Name: "interests", SQLType: "JSONB", Nullable: true},
				{Name: "anonymous_ids", SQLType: "JSONB", Nullable: true},
			},
			KeyExpr:     "NEW.email",
			SummaryExpr: "COALESCE(NEW.name, '') || ' ' || COALESCE(NEW.summary, '')",
			New:         func() Entity { return &User{} },
		},
		&EntityDescriptor{
			Kind:  KindFile,
			Table: "files",
			Fields: []FieldDescriptor{
				{Name: "uri", SQLType: "TEXT", NaturalKey: true},
				{Name: "name", SQLType: "TEXT", Nullable: true},
				{Name: "mime_type", SQLType: "TEXT", Nullable: true},
				{Name: "size_bytes", SQLType: "BIGINT", Nullable: true},
				{Name: "processing_status", SQLType: "TEXT", Nullable: true},
			},
			KeyExpr:     "NEW.uri",
			SummaryExpr: "COALESCE(NEW.name, NEW.uri)",
			New:         func() Entity { return &File{} },
		},
		&EntityDescriptor{
			Kind:  KindSchema,
			Table: "schemas",
			Fields: []FieldDescriptor{
				{Name: "name", SQLType: "TEXT", NaturalKey: true},
				{Name: "spec", SQLType: "JSONB", Nullable: true},
				{Name: "content", SQLType: "TEXT", Nullable: true, Embeddable: true, DefaultContent: true},
			},
			KeyExpr:     "NEW.name",
			SummaryExpr: "NEW.content",
			New:         func() Entity { return &Schema{} },
		},
	)
	if err != nil {
		// Descriptors above are static; a failure here is a programming error.
		panic(err)
	}
	return r
}
