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

func TestParseLookup(t *testing.T) {
	q, err := Parse("LOOKUP sarah-chen")
	require.NoError(t, err)
	assert.Equal(t, LookupQuery{Keys: []string{"sarah-chen"}}, q)

	q, err = Parse("LOOKUP doc-a,doc-b, doc-c")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-a", "doc-b", "doc-c"}, q.(LookupQuery).Keys)

	_, err = Parse("LOOKUP")
	assert.True(t, IsValidation(err))
}

func TestParseFuzzy(t *testing.T) {
	q, err := Parse("FUZZY arcitecture threshold=0.3 limit=5")
	require.NoError(t, err)
	fq := q.(FuzzyQuery)
	assert.Equal(t, "arcitecture", fq.QueryText)
	assert.Equal(t, 0.3, fq.Threshold)
	assert.Equal(t, 5, fq.Limit)

	// Defaults
	q, err = Parse(`FUZZY "architecture guide"`)
	require.NoError(t, err)
	fq = q.(FuzzyQuery)
	assert.Equal(t, "architecture guide", fq.QueryText)
	assert.Equal(t, DefaultFuzzyThreshold, fq.Threshold)
	assert.Equal(t, DefaultFuzzyLimit, fq.Limit)

	_, err = Parse("FUZZY x threshold=1.5")
	assert.True(t, IsValidation(err))
	_, err = Parse("FUZZY x threshold=abc")
	assert.True(t, IsValidation(err))
}

func TestParseSearch(t *testing.T) {
	q, err := Parse(`SEARCH "database migration" table=resources limit=3`)
	require.NoError(t, err)
	sq := q.(SearchQuery)
	assert.Equal(t, "database migration", sq.QueryText)
	assert.Equal(t, "resources", sq.Table)
	assert.Equal(t, "", sq.Field)
	assert.Equal(t, 3, sq.Limit)

	// table_name alias normalizes to table
	q, err = Parse(`SEARCH notes table_name=moments field=summary`)
	require.NoError(t, err)
	sq = q.(SearchQuery)
	assert.Equal(t, "moments", sq.Table)
	assert.Equal(t, "summary", sq.Field)

	_, err = Parse(`SEARCH "no table"`)
	assert.True(t, IsValidation(err))
}

func TestParseSQL(t *testing.T) {
	q, err := Parse(`SQL table=moments where="category = 'meeting' AND starts_ts >= '2025-10-01'" limit=20`)
	require.NoError(t, err)
	sq := q.(SQLQuery)
	assert.Equal(t, "moments", sq.Table)
	assert.Equal(t, "category = 'meeting' AND starts_ts >= '2025-10-01'", sq.WhereClause)
	assert.Equal(t, 20, sq.Limit)

	_, err = Parse("SQL table=moments")
	assert.True(t, IsValidation(err))
	_, err = Parse(`SQL where="x = 1"`)
	assert.True(t, IsValidation(err))
}

func TestParseTraverse(t *testing.T) {
	q, err := Parse("TRAVERSE doc-a depth=0")
	require.NoError(t, err)
	tq := q.(TraverseQuery)
	assert.Equal(t, "doc-a", tq.InitialQuery)
	assert.Equal(t, 0, tq.MaxDepth)
	assert.True(t, tq.WantsAllEdgeTypes())

	q, err = Parse("TRAVERSE doc-a rel_type=references,builds_on depth=2")
	require.NoError(t, err)
	tq = q.(TraverseQuery)
	assert.Equal(t, []string{"references", "builds_on"}, tq.EdgeTypes)
	assert.Equal(t, 2, tq.MaxDepth)

	// Wildcard and max_depth alias
	q, err = Parse("TRAVERSE doc-a rel_type=* max_depth=3")
	require.NoError(t, err)
	tq = q.(TraverseQuery)
	assert.True(t, tq.WantsAllEdgeTypes())
	assert.Equal(t, 3, tq.MaxDepth)

	_, err = Parse("TRAVERSE doc-a depth=-1")
	assert.True(t, IsValidation(err))
	_, err = Parse("TRAVERSE a b")
	assert.True(t, IsValidation(err))
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := Parse("FUZZY x frobnicate=1")
	assert.True(t, IsValidation(err))

	_, err = Parse("EXPLAIN doc-a")
	assert.True(t, IsValidation(err))

	_, err = Parse("")
	assert.True(t, IsValidation(err))

	_, err = Parse(`FUZZY "unterminated`)
	assert.True(t, IsValidation(err))
}

func TestQuotingAndEscapes(t *testing.T) {
	q, err := Parse(`LOOKUP "key with spaces"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"key with spaces"}, q.(LookupQuery).Keys)

	// Quoted positional text containing '=' must not become a binding.
	q, err = Parse(`FUZZY "a=b"`)
	require.NoError(t, err)
	assert.Equal(t, "a=b", q.(FuzzyQuery).QueryText)

	q, err = Parse(`SQL table=users where="name = \"Sarah\"" limit=1`)
	require.NoError(t, err)
	assert.Equal(t, `name = "Sarah"`, q.(SQLQuery).WhereClause)
}

func TestFormatParseRoundTrip(t *testing.T) {
	queries := []Query{
		LookupQuery{Keys: []string{"sarah-chen"}},
		LookupQuery{Keys: []string{"doc-a", "doc-b"}},
		FuzzyQuery{QueryText: "architecture guide", Threshold: 0.3, Limit: 5},
		FuzzyQuery{QueryText: "x", Threshold: 0, Limit: 10},
		SearchQuery{QueryText: "database migration", Table: "resources", MinSimilarity: 0, Limit: 3},
		SearchQuery{QueryText: "q", Table: "moments", Field: "summary", MinSimilarity: 0.7, Limit: 10, Provider: "openai"},
		SQLQuery{Table: "moments", WhereClause: "category = 'meeting'", Limit: 50},
		TraverseQuery{InitialQuery: "doc-a", MaxDepth: 0},
		TraverseQuery{InitialQuery: "doc-a", EdgeTypes: []string{"references"}, MaxDepth: 1},
	}

	for _, q := range queries {
		text := Format(q)
		parsed, err := Parse(text)
		require.NoError(t, err, "parse %q", text)
		assert.Equal(t, q, parsed, "round trip %q", text)
		assert.Equal(t, text, Format(parsed), "format stability %q", text)
	}
}
