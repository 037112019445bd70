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

// Package types contains shared types used across the REM substrate.
// This package breaks import cycles by providing common types that the
// agent, llm, and server packages all depend on.
package types

import (
	"context"
	"time"
)

// DefaultTenant is the tenant used when no X-Tenant-Id header is supplied.
const DefaultTenant = "default"

// RequestContext carries the caller identity and per-request bindings that
// scope every storage query and agent invocation.
type RequestContext struct {
	// UserID is the owning user. Empty means anonymous scope: queries match
	// rows with user_id IS NULL, never a synthetic id.
	UserID string

	// TenantID is the isolation scope. Defaults to DefaultTenant.
	TenantID string

	// SessionID identifies the conversation, if any.
	SessionID string

	// Model is the resolved model identifier in "<provider>:<model-id>" form.
	Model string

	// AgentSchema names the agent schema to load, if overridden.
	AgentSchema string
}

// Normalized returns a copy with the tenant defaulted.
func (rc RequestContext) Normalized() RequestContext {
	if rc.TenantID == "" {
		rc.TenantID = DefaultTenant
	}
	return rc
}

type requestContextKey struct{}

// WithRequestContext attaches a RequestContext to the context.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc.Normalized())
}

// RequestContextFrom extracts the RequestContext, or a default-tenant
// anonymous context when none was attached.
func RequestContextFrom(ctx context.Context) RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(RequestContext); ok {
		return rc
	}
	return RequestContext{TenantID: DefaultTenant}
}

// ToolCall represents a tool invocation by the LLM.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string

	// Name is the tool name
	Name string

	// Input contains the tool parameters as JSON
	Input map[string]interface{}
}

// Message represents a single message in a conversation exchanged with an
// LLM provider. This is the in-flight shape; the persisted entity lives in
// pkg/rem.
type Message struct {
	// ID is the unique message identifier (from the store, if persisted)
	ID string

	// Role is the message sender (system, user, assistant, tool)
	Role string

	// Content is the message text
	Content string

	// ToolCalls contains tool invocations (if role is assistant)
	ToolCalls []ToolCall

	// ToolUseID is the ID of the tool_use block this result corresponds to
	// (if role is tool). Providers use it to match results to requests.
	ToolUseID string

	// Timestamp when the message was created
	Timestamp time.Time

	// Metadata carries free-form attributes (partition-marker flags,
	// compression flags, logical ordering counters).
	Metadata map[string]interface{}
}

// Usage tracks LLM token usage.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage
	Usage Usage

	// Thinking contains the model's internal reasoning, when exposed
	Thinking string
}

// LLMProvider defines the interface for LLM providers.
// This allows pluggable backends (Anthropic, OpenAI, etc.).
type LLMProvider interface {
	// Chat sends a conversation to the LLM and returns the response.
	// The tools slice describes invokable tools in JSON-Schema form.
	Chat(ctx context.Context, messages []Message, tools []ToolDescriptor) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}

// TokenCallback is called for each token/chunk during streaming.
// Implementations should be lightweight and non-blocking.
type TokenCallback func(token string)

// StreamingLLMProvider extends LLMProvider with token streaming support.
type StreamingLLMProvider interface {
	LLMProvider

	// ChatStream streams tokens as they're generated from the LLM.
	// Returns the complete LLMResponse after the stream finishes.
	// The callback is called synchronously and should not block.
	ChatStream(ctx context.Context, messages []Message, tools []ToolDescriptor,
		tokenCallback TokenCallback) (*LLMResponse, error)
}

// SupportsStreaming checks if a provider supports token streaming.
func SupportsStreaming(provider LLMProvider) bool {
	_, ok := provider.(StreamingLLMProvider)
	return ok
}

// ToolDescriptor is the provider-facing description of an invokable tool.
type ToolDescriptor struct {
	// Name is the tool's unique identifier
	Name string

	// Description tells the model when to invoke the tool
	Description string

	// InputSchema is the JSON Schema for tool parameters
	InputSchema map[string]interface{}
}

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// Name returns the provider name ("openai", etc.)
	Name() string

	// Dimensions returns the vector width for the given model.
	Dimensions(model string) int
}
