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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/rem"
)

func descFor(t *testing.T, kind rem.Kind) *rem.EntityDescriptor {
	t.Helper()
	desc, ok := rem.DefaultRegistry().ByKind(kind)
	require.True(t, ok)
	return desc
}

func TestEncodeRowResource(t *testing.T) {
	desc := descFor(t, rem.KindResource)
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	res := &rem.Resource{
		Envelope: rem.Envelope{
			ID:        "id-1",
			TenantID:  "acme",
			UserID:    "u-1",
			CreatedAt: created,
			UpdatedAt: created,
			Metadata:  map[string]interface{}{"source": "upload"},
			Tags:      []string{"docs"},
			GraphEdges: []rem.GraphEdge{
				{Dst: "docs/other.md", RelType: "references", Weight: 0.8},
			},
		},
		URI:     "docs/guide.md",
		Ordinal: 2,
		Name:    "Guide",
		Content: "hello",
	}

	cols, vals, err := EncodeRow(desc, res)
	require.NoError(t, err)
	require.Len(t, vals, len(cols))

	byCol := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		byCol[c] = vals[i]
	}

	assert.Equal(t, "id-1", byCol["id"])
	assert.Equal(t, "acme", byCol["tenant_id"])
	assert.Equal(t, created, byCol["created_at"])
	assert.Nil(t, byCol["deleted_at"])
	assert.Equal(t, "docs/guide.md", byCol["uri"])
	assert.Equal(t, int64(2), byCol["ordinal"])

	assert.JSONEq(t, `{"source":"upload"}`, string(byCol["metadata"].([]byte)))
	assert.JSONEq(t, `["docs"]`, string(byCol["tags"].([]byte)))
	assert.Contains(t, string(byCol["graph_edges"].([]byte)), `"rel_type":"references"`)
}

func TestEncodeRowDefaults(t *testing.T) {
	desc := descFor(t, rem.KindMessage)
	msg := &rem.Message{
		Envelope:  rem.Envelope{ID: "m-1", TenantID: "default"},
		SessionID: "s-1",
	}

	cols, vals, err := EncodeRow(desc, msg)
	require.NoError(t, err)

	byCol := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		byCol[c] = vals[i]
	}

	// Unset envelope JSONB columns become empty containers, not NULL.
	assert.Equal(t, []byte("{}"), byCol["metadata"])
	assert.Equal(t, []byte("[]"), byCol["tags"])
	assert.Equal(t, []byte("[]"), byCol["graph_edges"])

	// Non-nullable text columns never encode as NULL.
	assert.Equal(t, "", byCol["content"])
	assert.Equal(t, "", byCol["message_type"])
}

func TestDecodeEntityRoundTrip(t *testing.T) {
	desc := descFor(t, rem.KindMoment)
	starts := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	moment := &rem.Moment{
		Envelope: rem.Envelope{
			ID:       "mo-1",
			TenantID: "acme",
			Metadata: map[string]interface{}{"session": "s-9"},
		},
		Name:               "standup-2026-08-20",
		Summary:            "Team reviewed the release plan.",
		StartsTS:           &starts,
		TopicTags:          []string{"release"},
		PreviousMomentKeys: []string{"standup-2026-08-19"},
		SourceSessionID:    "s-9",
	}

	cols, vals, err := EncodeRow(desc, moment)
	require.NoError(t, err)

	// Rows come back from the driver with JSONB as raw bytes.
	row := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		row[c] = vals[i]
	}

	decoded, err := DecodeEntity(desc, row)
	require.NoError(t, err)

	got, ok := decoded.(*rem.Moment)
	require.True(t, ok)
	assert.Equal(t, moment.Name, got.Name)
	assert.Equal(t, moment.Summary, got.Summary)
	assert.Equal(t, moment.PreviousMomentKeys, got.PreviousMomentKeys)
	assert.Equal(t, moment.SourceSessionID, got.SourceSessionID)
	require.NotNil(t, got.StartsTS)
	assert.True(t, starts.Equal(*got.StartsTS))
	assert.Equal(t, "s-9", got.Metadata["session"])
}

func TestDecodeEntityDriverDecodedJSONB(t *testing.T) {
	// pgx may hand JSONB back already decoded rather than as bytes.
	desc := descFor(t, rem.KindUser)
	row := map[string]interface{}{
		"id":        "u-1",
		"tenant_id": "acme",
		"email":     "sarah@example.com",
		"interests": []interface{}{"databases", "sailing"},
		"metadata":  map[string]interface{}{"plan": "pro"},
	}

	decoded, err := DecodeEntity(desc, row)
	require.NoError(t, err)

	got, ok := decoded.(*rem.User)
	require.True(t, ok)
	assert.Equal(t, "sarah@example.com", got.Email)
	assert.Equal(t, []string{"databases", "sailing"}, got.Interests)
	assert.Equal(t, "pro", got.Metadata["plan"])
}

func TestLooksLikeJSON(t *testing.T) {
	assert.True(t, looksLikeJSON([]byte(`{"a":1}`)))
	assert.True(t, looksLikeJSON([]byte(`["a"]`)))
	assert.True(t, looksLikeJSON([]byte(` 42`)))
	assert.False(t, looksLikeJSON([]byte("plain text")))
	assert.False(t, looksLikeJSON([]byte{0x01, 0x02}))
	assert.False(t, looksLikeJSON(nil))
}
