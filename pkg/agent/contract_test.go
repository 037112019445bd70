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
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":      map[string]interface{}{"type": "string"},
			"confidence": map[string]interface{}{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"nested": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"label": map[string]interface{}{"type": "string"},
				},
			},
		},
		"required": []string{"query", "confidence"},
	}
}

func TestContractValidate(t *testing.T) {
	c, err := NewContract(contractSchema(), "anthropic")
	require.NoError(t, err)

	require.NoError(t, c.Validate(map[string]interface{}{
		"query": "FUZZY sarah", "confidence": 0.8,
	}))

	err = c.Validate(map[string]interface{}{"query": "FUZZY sarah"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")

	// Anthropic keeps numeric range constraints.
	err = c.Validate(map[string]interface{}{"query": "x", "confidence": 1.5})
	require.Error(t, err)
}

func TestContractOpenAIPass(t *testing.T) {
	c, err := NewContract(contractSchema(), "openai")
	require.NoError(t, err)

	schema := c.Schema()
	assert.Equal(t, false, schema["additionalProperties"])

	props := schema["properties"].(map[string]interface{})
	conf := props["confidence"].(map[string]interface{})
	_, hasMin := conf["minimum"]
	_, hasMax := conf["maximum"]
	assert.False(t, hasMin, "range constraints are stripped for openai")
	assert.False(t, hasMax)

	nested := props["nested"].(map[string]interface{})
	assert.Equal(t, false, nested["additionalProperties"], "nested objects are closed too")

	// Out-of-range confidence now passes; extra properties now fail.
	require.NoError(t, c.Validate(map[string]interface{}{"query": "x", "confidence": 1.5}))
	require.Error(t, c.Validate(map[string]interface{}{
		"query": "x", "confidence": 0.5, "surprise": true,
	}))
}

func TestParseOutputTolerance(t *testing.T) {
	c, err := NewContract(contractSchema(), "anthropic")
	require.NoError(t, err)

	// Prose and a code fence around the object.
	out, err := c.ParseOutput("Here is the plan:\n```json\n{\"query\": \"LOOKUP a\", \"confidence\": 0.9}\n```\n")
	require.NoError(t, err)
	assert.Equal(t, "LOOKUP a", out["query"])

	// Trailing comma gets repaired.
	out, err = c.ParseOutput(`{"query": "LOOKUP a", "confidence": 0.9,}`)
	require.NoError(t, err)
	assert.Equal(t, 0.9, out["confidence"])

	_, err = c.ParseOutput("no json here at all")
	require.Error(t, err)
}

func TestDecodeModelJSONRepairs(t *testing.T) {
	obj, err := DecodeModelJSON(`{'query': 'FUZZY x', 'confidence': 0.7}`)
	require.NoError(t, err)
	assert.Equal(t, "FUZZY x", obj["query"])
}
