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
package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/teradata-labs/rem/pkg/rem"
)

// DefaultVectorDimensions matches text-embedding-3-small.
const DefaultVectorDimensions = 1536

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Generator produces idempotent DDL from the model registry: entity tables,
// sibling embeddings tables, the key-store and its sync triggers, and
// indexes. Registering a new entity kind and re-running EnsureSchema is the
// whole migration story for added kinds.
type Generator struct {
	registry   *rem.ModelRegistry
	dimensions int
}

// NewGenerator creates a Generator. dimensions <= 0 selects the default.
func NewGenerator(registry *rem.ModelRegistry, dimensions int) *Generator {
	if registry == nil {
		registry = rem.DefaultRegistry()
	}
	if dimensions <= 0 {
		dimensions = DefaultVectorDimensions
	}
	return &Generator{registry: registry, dimensions: dimensions}
}

// SchemaDDL returns every schema statement in apply order. All statements
// are idempotent, so re-running against a current database is a no-op.
func (g *Generator) SchemaDDL() ([]string, error) {
	stmts := []string{keystoreDDL, keystoreTrgmIndexDDL, keystoreKindIndexDDL}

	for _, desc := range g.registry.Descriptors() {
		if err := validateDescriptorIdentifiers(desc); err != nil {
			return nil, err
		}
		stmts = append(stmts, g.tableDDL(desc))
		stmts = append(stmts, g.tableIndexDDL(desc)...)
		if hasEmbeddableField(desc) {
			stmts = append(stmts, g.embeddingsTableDDL(desc))
		}
		stmts = append(stmts, g.keystoreTriggerDDL(desc)...)
	}
	return stmts, nil
}

// VectorIndexDDL returns the HNSW index statements for the embeddings
// tables. These build concurrently and cannot run inside a transaction, so
// they are applied separately from SchemaDDL.
func (g *Generator) VectorIndexDDL() []string {
	var stmts []string
	for _, desc := range g.registry.Descriptors() {
		if !hasEmbeddableField(desc) {
			continue
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_embeddings_%s_hnsw ON embeddings_%s USING hnsw (embedding vector_cosine_ops)",
			desc.Table, desc.Table))
	}
	return stmts
}

// Executor is the statement-execution surface EnsureSchema needs.
type Executor interface {
	Execute(ctx context.Context, sql string, args ...interface{}) (int64, error)
}

// EnsureSchema applies the generated DDL, then any column additions for
// fields declared after the tables were first created.
func (g *Generator) EnsureSchema(ctx context.Context, exec Executor, q rem.Querier) error {
	stmts, err := g.SchemaDDL()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := exec.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	alters, err := g.MissingColumns(ctx, q)
	if err != nil {
		return err
	}
	for _, stmt := range alters {
		if _, err := exec.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column: %w", err)
		}
	}
	return nil
}

// MissingColumns diffs the registry against information_schema and returns
// ALTER TABLE statements for declared fields the live tables lack. Columns
// present in the database but absent from the registry are left alone.
func (g *Generator) MissingColumns(ctx context.Context, q rem.Querier) ([]string, error) {
	tables := g.registry.Tables()
	rows, err := q.FetchMany(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		tables)
	if err != nil {
		return nil, fmt.Errorf("failed to read live schema: %w", err)
	}

	existing := make(map[string]map[string]bool, len(tables))
	for _, row := range rows {
		table, _ := row["table_name"].(string)
		column, _ := row["column_name"].(string)
		if existing[table] == nil {
			existing[table] = make(map[string]bool)
		}
		existing[table][column] = true
	}

	var alters []string
	for _, desc := range g.registry.Descriptors() {
		have := existing[desc.Table]
		if have == nil {
			// Table missing entirely; SchemaDDL creates it whole.
			continue
		}
		for _, f := range desc.Fields {
			if have[f.Name] {
				continue
			}
			alters = append(alters, fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				desc.Table, f.Name, columnType(f)))
		}
	}
	sort.Strings(alters)
	return alters, nil
}

const keystoreDDL = `CREATE TABLE IF NOT EXISTS rem_keystore (
	tenant_id TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	user_id TEXT,
	content_summary TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at TIMESTAMPTZ,
	PRIMARY KEY (tenant_id, entity_key, entity_kind)
)`

const keystoreTrgmIndexDDL = `CREATE INDEX IF NOT EXISTS idx_rem_keystore_key_trgm ON rem_keystore USING GIN (entity_key gin_trgm_ops)`

const keystoreKindIndexDDL = `CREATE INDEX IF NOT EXISTS idx_rem_keystore_kind ON rem_keystore (tenant_id, entity_kind)`

func (g *Generator) tableDDL(desc *rem.EntityDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", desc.Table)
	b.WriteString("\tid TEXT PRIMARY KEY,\n")
	b.WriteString("\ttenant_id TEXT NOT NULL DEFAULT 'default',\n")
	b.WriteString("\tuser_id TEXT,\n")
	b.WriteString("\tcreated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),\n")
	b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),\n")
	b.WriteString("\tdeleted_at TIMESTAMPTZ,\n")
	b.WriteString("\tmetadata JSONB NOT NULL DEFAULT '{}'::jsonb,\n")
	b.WriteString("\ttags JSONB NOT NULL DEFAULT '[]'::jsonb,\n")
	b.WriteString("\tgraph_edges JSONB NOT NULL DEFAULT '[]'::jsonb")
	for _, f := range desc.Fields {
		fmt.Fprintf(&b, ",\n\t%s %s", f.Name, columnType(f))
	}
	b.WriteString("\n)")
	return b.String()
}

func (g *Generator) tableIndexDDL(desc *rem.EntityDescriptor) []string {
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tenant_created ON %s (tenant_id, created_at DESC)", desc.Table, desc.Table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (tenant_id, user_id) WHERE user_id IS NOT NULL", desc.Table, desc.Table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_metadata ON %s USING GIN (metadata jsonb_path_ops)", desc.Table, desc.Table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tags ON %s USING GIN (tags jsonb_path_ops)", desc.Table, desc.Table),
		// Reverse traversal: find rows whose inline edges point at a key.
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_graph_edges ON %s USING GIN (graph_edges jsonb_path_ops)", desc.Table, desc.Table),
	}
	if natural := desc.NaturalKeyColumns(); len(natural) > 0 {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_natural_key ON %s (tenant_id, %s)",
			desc.Table, desc.Table, strings.Join(natural, ", ")))
	}
	if desc.Kind == rem.KindMessage {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (tenant_id, session_id, created_at)",
			desc.Table, desc.Table))
	}
	return stmts
}

func (g *Generator) embeddingsTableDDL(desc *rem.EntityDescriptor) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings_%s (
	entity_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	embedding vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (entity_id, field_name, provider)
)`, desc.Table, g.dimensions)
}

// keystoreTriggerDDL generates the sync trigger for one entity table. The
// trigger keeps rem_keystore exactly in step with the row: inserts and
// updates upsert the derived key and summary, soft deletes mirror the
// tombstone, hard deletes remove the key outright.
func (g *Generator) keystoreTriggerDDL(desc *rem.EntityDescriptor) []string {
	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION rem_keystore_sync_%s() RETURNS trigger AS $$
BEGIN
	IF (TG_OP = 'DELETE') THEN
		DELETE FROM rem_keystore WHERE tenant_id = OLD.tenant_id AND entity_id = OLD.id;
		RETURN OLD;
	END IF;
	INSERT INTO rem_keystore (tenant_id, entity_key, entity_kind, entity_id, user_id, content_summary, metadata, updated_at, deleted_at)
	VALUES (
		NEW.tenant_id,
		%s,
		'%s',
		NEW.id,
		NEW.user_id,
		LEFT(COALESCE(%s, ''), 256),
		COALESCE(NEW.metadata, '{}'::jsonb),
		NOW(),
		NEW.deleted_at
	)
	ON CONFLICT (tenant_id, entity_key, entity_kind) DO UPDATE SET
		entity_id = EXCLUDED.entity_id,
		user_id = EXCLUDED.user_id,
		content_summary = EXCLUDED.content_summary,
		metadata = EXCLUDED.metadata,
		updated_at = NOW(),
		deleted_at = EXCLUDED.deleted_at;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`, desc.Table, desc.KeyExpr, desc.Kind, desc.SummaryExpr)

	drop := fmt.Sprintf("DROP TRIGGER IF EXISTS trg_rem_keystore_%s ON %s", desc.Table, desc.Table)
	create := fmt.Sprintf(
		"CREATE TRIGGER trg_rem_keystore_%s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION rem_keystore_sync_%s()",
		desc.Table, desc.Table, desc.Table)

	return []string{fn, drop, create}
}

func columnType(f rem.FieldDescriptor) string {
	t := f.SQLType
	if !f.Nullable {
		t += " NOT NULL"
		switch f.SQLType {
		case "TEXT":
			t += " DEFAULT ''"
		case "BIGINT":
			t += " DEFAULT 0"
		}
	}
	return t
}

func hasEmbeddableField(desc *rem.EntityDescriptor) bool {
	for _, f := range desc.Fields {
		if f.Embeddable {
			return true
		}
	}
	return false
}

func validateDescriptorIdentifiers(desc *rem.EntityDescriptor) error {
	if !identPattern.MatchString(desc.Table) {
		return fmt.Errorf("invalid table identifier %q", desc.Table)
	}
	for _, f := range desc.Fields {
		if !identPattern.MatchString(f.Name) {
			return fmt.Errorf("invalid column identifier %q in table %s", f.Name, desc.Table)
		}
	}
	return nil
}
