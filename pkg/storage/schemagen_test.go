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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/rem"
)

func TestSchemaDDLCoversRegistry(t *testing.T) {
	g := NewGenerator(rem.DefaultRegistry(), 0)
	stmts, err := g.SchemaDDL()
	require.NoError(t, err)

	joined := strings.Join(stmts, ";\n")

	for _, table := range rem.DefaultRegistry().Tables() {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" (")
		assert.Contains(t, joined, "CREATE TRIGGER trg_rem_keystore_"+table)
	}

	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS rem_keystore")
	assert.Contains(t, joined, "gin_trgm_ops")

	// Embeddings siblings exist only for tables with embeddable fields.
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS embeddings_resources")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS embeddings_moments")
	assert.NotContains(t, joined, "embeddings_files")

	assert.Contains(t, joined, "embedding vector(1536) NOT NULL")
}

func TestSchemaDDLNaturalKeyIndexes(t *testing.T) {
	g := NewGenerator(rem.DefaultRegistry(), 0)
	stmts, err := g.SchemaDDL()
	require.NoError(t, err)
	joined := strings.Join(stmts, ";\n")

	assert.Contains(t, joined, "CREATE UNIQUE INDEX IF NOT EXISTS uq_resources_natural_key ON resources (tenant_id, uri, ordinal)")
	assert.Contains(t, joined, "CREATE UNIQUE INDEX IF NOT EXISTS uq_moments_natural_key ON moments (tenant_id, name)")

	// Messages have no natural key columns; the id is the key.
	assert.NotContains(t, joined, "uq_messages_natural_key")
	assert.Contains(t, joined, "idx_messages_session")
}

func TestTriggerDDLUsesRegistryExpressions(t *testing.T) {
	g := NewGenerator(rem.DefaultRegistry(), 0)
	stmts, err := g.SchemaDDL()
	require.NoError(t, err)
	joined := strings.Join(stmts, ";\n")

	assert.Contains(t, joined, "CASE WHEN NEW.ordinal = 0 THEN NEW.uri ELSE NEW.uri || '#' || NEW.ordinal END")
	assert.Contains(t, joined, "'moment'")
	assert.Contains(t, joined, "LEFT(COALESCE(NEW.summary, ''), 256)")
	assert.Contains(t, joined, "deleted_at = EXCLUDED.deleted_at")
}

func TestVectorIndexDDL(t *testing.T) {
	g := NewGenerator(rem.DefaultRegistry(), 0)
	stmts := g.VectorIndexDDL()
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.Contains(t, s, "CREATE INDEX CONCURRENTLY IF NOT EXISTS")
		assert.Contains(t, s, "USING hnsw (embedding vector_cosine_ops)")
	}
}

func TestSchemaDDLRejectsBadIdentifiers(t *testing.T) {
	registry, err := rem.NewModelRegistry(&rem.EntityDescriptor{
		Kind:  rem.Kind("evil"),
		Table: "evil; DROP TABLE users",
		New:   func() rem.Entity { return &rem.Resource{} },
	})
	require.NoError(t, err)

	g := NewGenerator(registry, 0)
	_, err = g.SchemaDDL()
	assert.Error(t, err)
}

type columnsStore struct {
	rows []map[string]interface{}
}

func (s *columnsStore) FetchMany(_ context.Context, _ string, _ ...interface{}) ([]map[string]interface{}, error) {
	return s.rows, nil
}

func TestMissingColumnsDiff(t *testing.T) {
	// Live resources table predates the category and related_entities fields.
	store := &columnsStore{}
	cols := append([]string{}, EnvelopeColumns...)
	cols = append(cols, "uri", "ordinal", "name", "content", "timestamp")
	for _, c := range cols {
		store.rows = append(store.rows, map[string]interface{}{
			"table_name": "resources", "column_name": c,
		})
	}

	g := NewGenerator(rem.DefaultRegistry(), 0)
	alters, err := g.MissingColumns(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ALTER TABLE resources ADD COLUMN IF NOT EXISTS category TEXT",
		"ALTER TABLE resources ADD COLUMN IF NOT EXISTS related_entities JSONB",
	}, alters)
}

func TestMissingColumnsSkipsAbsentTables(t *testing.T) {
	g := NewGenerator(rem.DefaultRegistry(), 0)
	alters, err := g.MissingColumns(context.Background(), &columnsStore{})
	require.NoError(t, err)
	assert.Empty(t, alters, "tables the DDL has not created yet are not diffed")
}
