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
package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/types"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		spec     string
		provider string
		model    string
	}{
		{"anthropic:claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"openai:gpt-4.1", "openai", "gpt-4.1"},
		{"OpenAI: gpt-4.1 ", "openai", "gpt-4.1"},
		{"claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"", "anthropic", ""},
		{":gpt-4.1", "anthropic", "gpt-4.1"},
	}
	for _, tc := range tests {
		provider, model := ParseModel(tc.spec)
		assert.Equal(t, tc.provider, provider, "spec %q", tc.spec)
		assert.Equal(t, tc.model, model, "spec %q", tc.spec)
	}
}

func TestNewProviders(t *testing.T) {
	cfg := Config{AnthropicAPIKey: "a", OpenAIAPIKey: "o"}

	p, err := New("anthropic:claude-sonnet-4-5", cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, "claude-sonnet-4-5", p.Model())
	assert.True(t, types.SupportsStreaming(p))

	p, err = New("openai:gpt-4.1", cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.True(t, types.SupportsStreaming(p))
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New("cohere:command-r", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cohere")
	assert.Contains(t, err.Error(), "anthropic")
}
