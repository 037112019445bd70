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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assistantYAML = `name: assistant
description: |
  You are a helpful assistant with persistent memory.
properties:
  answer:
    type: string
required:
  - answer
x-rem:
  tools:
    - rem_query
    - rem_create_resource
  model: anthropic:claude-sonnet-4-5
  temperature: 0.3
  max_iterations: 6
`

func writeSchemaDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestSchemaLoaderLoad(t *testing.T) {
	dir := writeSchemaDir(t, map[string]string{"assistant.yaml": assistantYAML})
	l, err := NewSchemaLoader(SchemaLoaderConfig{Dir: dir})
	require.NoError(t, err)
	defer l.Close()

	s, err := l.Load("assistant")
	require.NoError(t, err)

	assert.Equal(t, "assistant", s.Name)
	assert.Contains(t, s.Description, "persistent memory")
	assert.Equal(t, []string{"rem_query", "rem_create_resource"}, s.Extensions.Tools)
	assert.Equal(t, "anthropic:claude-sonnet-4-5", s.Extensions.Model)
	require.NotNil(t, s.Extensions.Temperature)
	assert.Equal(t, 0.3, *s.Extensions.Temperature)
	assert.Equal(t, 6, s.Extensions.MaxIterations)

	assert.True(t, s.HasContract())
	doc := s.ContractSchema()
	assert.Equal(t, "object", doc["type"])
	assert.Contains(t, doc, "required")

	// Cached: same pointer on second load.
	again, err := l.Load("assistant")
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestSchemaLoaderMissSuggestion(t *testing.T) {
	dir := writeSchemaDir(t, map[string]string{
		"assistant.yaml": assistantYAML,
		"planner.yaml":   "name: planner\ndescription: plans queries\n",
	})
	l, err := NewSchemaLoader(SchemaLoaderConfig{Dir: dir})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Load("asistant")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "assistant"`)

	assert.Equal(t, []string{"assistant", "planner"}, l.Available())
}

func TestSchemaLoaderRejectsPromptlessSchema(t *testing.T) {
	dir := writeSchemaDir(t, map[string]string{"empty.yaml": "name: empty\n"})
	l, err := NewSchemaLoader(SchemaLoaderConfig{Dir: dir})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Load("empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no description")
}
