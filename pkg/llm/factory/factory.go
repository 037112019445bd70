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

// Package factory resolves "<provider>:<model-id>" model specs into
// provider clients.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teradata-labs/rem/pkg/llm/anthropic"
	"github.com/teradata-labs/rem/pkg/llm/openai"
	"github.com/teradata-labs/rem/pkg/types"
)

// DefaultProvider is used when a model spec names no provider.
const DefaultProvider = "anthropic"

// Config carries the provider credentials and shared client settings.
// Empty keys fall back to the provider's environment variables.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string

	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// ParseModel splits a "<provider>:<model-id>" spec. A bare model id gets
// the default provider; an empty spec gets the default provider's default
// model (empty model id).
func ParseModel(spec string) (provider, model string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DefaultProvider, ""
	}
	if i := strings.Index(spec, ":"); i >= 0 {
		provider = strings.ToLower(strings.TrimSpace(spec[:i]))
		model = strings.TrimSpace(spec[i+1:])
		if provider == "" {
			provider = DefaultProvider
		}
		return provider, model
	}
	return DefaultProvider, spec
}

// New creates a provider client for a model spec.
func New(spec string, cfg Config) (types.LLMProvider, error) {
	provider, model := ParseModel(spec)

	switch provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       model,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       model,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q (supported: %s)",
			provider, strings.Join(SupportedProviders(), ", "))
	}
}

// SupportedProviders lists the providers the factory can build.
func SupportedProviders() []string {
	providers := []string{"anthropic", "openai"}
	sort.Strings(providers)
	return providers
}
