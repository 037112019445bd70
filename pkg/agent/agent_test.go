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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/tools"
	"github.com/teradata-labs/rem/pkg/types"
)

// scriptedProvider returns canned responses in order and records the
// message lists it was called with.
type scriptedProvider struct {
	responses []*types.LLMResponse
	calls     [][]types.Message
	err       error
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []types.Message, _ []types.ToolDescriptor) (*types.LLMResponse, error) {
	p.calls = append(p.calls, append([]types.Message(nil), messages...))
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &types.LLMResponse{Content: "done", StopReason: "end_turn"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

type echoTool struct {
	calls []map[string]interface{}
	ctxRC []types.RequestContext
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes its input back" }
func (t *echoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	t.calls = append(t.calls, args)
	t.ctxRC = append(t.ctxRC, types.RequestContextFrom(ctx))
	text, _ := args["text"].(string)
	return tools.TextResult("echo: " + text), nil
}

func TestRunToolLoop(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{
			StopReason: "tool_use",
			ToolCalls: []types.ToolCall{
				{ID: "tu-1", Name: "echo", Input: map[string]interface{}{"text": "hi"}},
			},
			Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
		{
			Content:    "the tool said: echo: hi",
			StopReason: "end_turn",
			Usage:      types.Usage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28},
		},
	}}
	tool := &echoTool{}

	a, err := New(Config{
		Name:         "tester",
		Provider:     provider,
		SystemPrompt: "You test things.",
		Tools:        []tools.Tool{tool},
	})
	require.NoError(t, err)

	resp, err := a.Run(context.Background(), []types.Message{{Role: "user", Content: "run echo"}})
	require.NoError(t, err)

	assert.Equal(t, "the tool said: echo: hi", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 43, resp.Usage.TotalTokens, "usage aggregates across iterations")

	require.Len(t, tool.calls, 1)
	assert.Equal(t, "hi", tool.calls[0]["text"])

	require.Len(t, resp.ToolExecutions, 1)
	assert.Equal(t, "echo", resp.ToolExecutions[0].Name)
	assert.Equal(t, "echo: hi", resp.ToolExecutions[0].Result)

	// assistant(tool_use) + tool result + final assistant.
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "tool", resp.Messages[1].Role)
	assert.Equal(t, "tu-1", resp.Messages[1].ToolUseID)

	// The second provider call sees the system prompt, the user turn, the
	// assistant tool call, and the tool result.
	require.Len(t, provider.calls, 2)
	second := provider.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, "system", second[0].Role)
	assert.Equal(t, "echo: hi", second[3].Content)
}

func TestRunMaxIterations(t *testing.T) {
	// Every turn requests another tool call; the loop must trip the cap.
	loop := &types.LLMResponse{
		StopReason: "tool_use",
		ToolCalls:  []types.ToolCall{{ID: "tu", Name: "echo", Input: map[string]interface{}{}}},
	}
	provider := &scriptedProvider{responses: []*types.LLMResponse{loop, loop, loop, loop}}

	a, err := New(Config{
		Provider:      provider,
		Tools:         []tools.Tool{&echoTool{}},
		MaxIterations: 3,
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), []types.Message{{Role: "user", Content: "go"}})
	require.Error(t, err)

	var maxErr *MaxIterationsError
	require.True(t, errors.As(err, &maxErr))
	assert.Equal(t, 3, maxErr.Limit)
}

func TestRunUnknownToolFeedsErrorBack(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{
			StopReason: "tool_use",
			ToolCalls:  []types.ToolCall{{ID: "tu-1", Name: "nope", Input: map[string]interface{}{}}},
		},
		{Content: "recovered", StopReason: "end_turn"},
	}}

	a, err := New(Config{Provider: provider})
	require.NoError(t, err)

	resp, err := a.Run(context.Background(), []types.Message{{Role: "user", Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)

	require.Len(t, resp.ToolExecutions, 1)
	assert.True(t, resp.ToolExecutions[0].IsError)
	assert.Contains(t, resp.ToolExecutions[0].Result, "unknown tool")
}

func TestRunContractValidation(t *testing.T) {
	contract, err := NewContract(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"answer": map[string]interface{}{"type": "string"},
		},
		"required": []string{"answer"},
	}, "anthropic")
	require.NoError(t, err)

	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `{"answer": "42"}`, StopReason: "end_turn"},
	}}
	a, err := New(Config{Provider: provider, Contract: contract})
	require.NoError(t, err)

	resp, err := a.Run(context.Background(), []types.Message{{Role: "user", Content: "?"}})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Output["answer"])

	// A non-conforming answer fails the run.
	provider.responses = []*types.LLMResponse{
		{Content: `{"wrong": true}`, StopReason: "end_turn"},
	}
	_, err = a.Run(context.Background(), []types.Message{{Role: "user", Content: "?"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output rejected")
}

func TestRunStreamHooks(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{
			StopReason: "tool_use",
			ToolCalls:  []types.ToolCall{{ID: "tu-1", Name: "echo", Input: map[string]interface{}{"text": "x"}}},
		},
		{Content: "final", StopReason: "end_turn"},
	}}
	tool := &echoTool{}
	a, err := New(Config{Provider: provider, Tools: []tools.Tool{tool}})
	require.NoError(t, err)

	var events []ToolCallEvent
	var toks []string
	resp, err := a.RunStream(context.Background(),
		[]types.Message{{Role: "user", Content: "go"}},
		Hooks{
			OnToken:    func(tok string) { toks = append(toks, tok) },
			OnToolCall: func(ev ToolCallEvent) { events = append(events, ev) },
		})
	require.NoError(t, err)
	assert.Equal(t, "final", resp.Content)

	// Non-streaming provider delivers the final answer as one token.
	assert.Equal(t, []string{"final"}, toks)

	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "echo: x", events[1].Result)
}

func TestContextToolInjectsIdentity(t *testing.T) {
	tool := &echoTool{}
	wrapped := &contextTool{inner: tool, rc: types.RequestContext{UserID: "u-9", TenantID: "acme"}}

	_, err := wrapped.Execute(context.Background(), map[string]interface{}{"text": "hi"})
	require.NoError(t, err)

	require.Len(t, tool.ctxRC, 1)
	assert.Equal(t, "u-9", tool.ctxRC[0].UserID)
	assert.Equal(t, "acme", tool.ctxRC[0].TenantID)
}
