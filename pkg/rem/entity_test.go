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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaturalKeys(t *testing.T) {
	assert.Equal(t, "docs/guide.md", (&Resource{URI: "docs/guide.md"}).NaturalKey())
	assert.Equal(t, "docs/guide.md#2", (&Resource{URI: "docs/guide.md", Ordinal: 2}).NaturalKey())
	assert.Equal(t, "sarah@example.com", (&User{Email: "sarah@example.com"}).NaturalKey())
	assert.Equal(t, "standup-2026-08-21", (&Moment{Name: "standup-2026-08-21"}).NaturalKey())
	assert.Equal(t, "uploads/report.pdf", (&File{URI: "uploads/report.pdf"}).NaturalKey())
	assert.Equal(t, "query-planner", (&Schema{Name: "query-planner"}).NaturalKey())
}

func TestFileStatusTransitions(t *testing.T) {
	assert.True(t, FilePending.CanTransition(FileProcessing))
	assert.True(t, FileProcessing.CanTransition(FileCompleted))
	assert.True(t, FileProcessing.CanTransition(FileFailed))
	assert.False(t, FilePending.CanTransition(FileCompleted))
	assert.False(t, FileCompleted.CanTransition(FileProcessing))
	assert.False(t, FileFailed.CanTransition(FilePending))
}

func TestPartitionMarkerFlag(t *testing.T) {
	msg := &Message{}
	assert.False(t, msg.IsPartitionMarker())

	msg.Metadata = map[string]interface{}{PartitionMarkerFlag: true}
	assert.True(t, msg.IsPartitionMarker())

	msg.Metadata = map[string]interface{}{PartitionMarkerFlag: "yes"}
	assert.False(t, msg.IsPartitionMarker(), "non-bool flag values are ignored")
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"files", "messages", "moments", "resources", "schemas", "users"}, r.Tables())

	desc, ok := r.ByTable("resources")
	require.True(t, ok)
	assert.Equal(t, KindResource, desc.Kind)
	assert.Equal(t, []string{"uri", "ordinal"}, desc.NaturalKeyColumns())

	field, err := desc.DefaultContentField()
	require.NoError(t, err)
	assert.Equal(t, "content", field)

	fd, ok := desc.Field("content")
	require.True(t, ok)
	assert.True(t, fd.Embeddable)

	_, ok = desc.Field("nonexistent")
	assert.False(t, ok)

	_, ok = r.ByTable("rem_keystore")
	assert.False(t, ok, "infrastructure tables are not queryable entity tables")
}

func TestErrorTaxonomy(t *testing.T) {
	err := NewEmbeddingFieldNotFoundError("resources", "title")
	assert.Equal(t, CodeEmbeddingFieldNotFound, CodeOf(err))
	assert.True(t, err.Recoverable())

	conflict := NewConflictError("doc-a", assert.AnError)
	assert.True(t, IsConflict(conflict))
	assert.Equal(t, "doc-a", conflict.Key)
	assert.ErrorIs(t, conflict, assert.AnError)

	qerr := NewQueryExecutionError(assert.AnError)
	assert.False(t, qerr.Recoverable())
	assert.Equal(t, Code(""), CodeOf(assert.AnError))
}
