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

// ModelInfo describes one servable model for the catalog endpoint.
type ModelInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Provider      string   `json:"provider"`
	Capabilities  []string `json:"capabilities"`
	ContextWindow int      `json:"context_window"`
}

// Models lists the supported models per provider, in catalog order.
func Models() []ModelInfo {
	return []ModelInfo{
		{
			ID:            "claude-sonnet-4-5",
			Name:          "Claude Sonnet 4.5",
			Provider:      "anthropic",
			Capabilities:  []string{"text", "tool-use", "streaming"},
			ContextWindow: 200000,
		},
		{
			ID:            "claude-haiku-4-5",
			Name:          "Claude Haiku 4.5",
			Provider:      "anthropic",
			Capabilities:  []string{"text", "tool-use", "streaming"},
			ContextWindow: 200000,
		},
		{
			ID:            "claude-opus-4-5",
			Name:          "Claude Opus 4.5",
			Provider:      "anthropic",
			Capabilities:  []string{"text", "tool-use", "streaming"},
			ContextWindow: 200000,
		},
		{
			ID:            "gpt-4.1",
			Name:          "GPT-4.1",
			Provider:      "openai",
			Capabilities:  []string{"text", "tool-use", "streaming"},
			ContextWindow: 1000000,
		},
		{
			ID:            "gpt-4.1-mini",
			Name:          "GPT-4.1 mini",
			Provider:      "openai",
			Capabilities:  []string{"text", "tool-use", "streaming"},
			ContextWindow: 1000000,
		},
	}
}

// ModelsByProvider filters the catalog by provider name.
func ModelsByProvider(provider string) []ModelInfo {
	var out []ModelInfo
	for _, m := range Models() {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}
