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
package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/agent"
	"github.com/teradata-labs/rem/pkg/tools"
	"github.com/teradata-labs/rem/pkg/types"
)

// scriptedProvider replays canned responses in order.
type scriptedProvider struct {
	responses []*types.LLMResponse
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []types.Message, descs []types.ToolDescriptor) (*types.LLMResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

// childTool emits events into the request's child sink, standing in for a
// tool that spawns a subordinate agent.
type childTool struct {
	events []StreamEvent
}

func (t *childTool) Name() string        { return "delegate" }
func (t *childTool) Description() string { return "delegates to a subordinate agent" }
func (t *childTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (t *childTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	sink := ChildSinkFrom(ctx)
	for _, ev := range t.events {
		sink.Push(ev)
	}
	return tools.TextResult("delegated"), nil
}

type fakeBuilder struct {
	ag *agent.Agent
}

func (f *fakeBuilder) Build(ctx context.Context, rc types.RequestContext) (*agent.Agent, error) {
	return f.ag, nil
}

type fakeAssembler struct{}

func (fakeAssembler) Assemble(ctx context.Context, rc types.RequestContext, newTurns []types.Message) ([]types.Message, error) {
	out := []types.Message{{Role: "system", Content: "Current date: 2026-08-24."}}
	return append(out, newTurns...), nil
}

func newTestOrchestrator(t *testing.T, provider types.LLMProvider, agentTools ...tools.Tool) *Orchestrator {
	t.Helper()
	ag, err := agent.New(agent.Config{Name: "parent", Provider: provider, Tools: agentTools})
	require.NoError(t, err)
	o, err := NewOrchestrator(OrchestratorConfig{
		Factory:   &fakeBuilder{ag: ag},
		Assembler: fakeAssembler{},
	})
	require.NoError(t, err)
	return o
}

func eventTypes(events []StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestCompleteEmitsContentAndDone(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: "hello there", StopReason: "end_turn", Usage: types.Usage{InputTokens: 5, OutputTokens: 3}},
	}}
	o := newTestOrchestrator(t, provider)

	var events []StreamEvent
	resp, err := o.Complete(context.Background(), types.RequestContext{TenantID: "acme"},
		[]types.Message{{Role: "user", Content: "hi"}},
		func(ev StreamEvent) { events = append(events, ev) })
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)

	require.Equal(t, []string{EventContent, EventMetadata, EventDone}, eventTypes(events))
	assert.Equal(t, "parent", events[0].Agent)
	assert.Equal(t, "end_turn", events[2].FinishReason)
	assert.Equal(t, 5, events[1].Metadata["input_tokens"])
}

func TestCompleteRelaysToolBoundaries(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{ToolCalls: []types.ToolCall{{ID: "tc-1", Name: "delegate", Input: map[string]interface{}{}}}},
		{Content: "done", StopReason: "end_turn"},
	}}
	o := newTestOrchestrator(t, provider, &childTool{})

	var events []StreamEvent
	_, err := o.Complete(context.Background(), types.RequestContext{TenantID: "acme"},
		[]types.Message{{Role: "user", Content: "go"}},
		func(ev StreamEvent) { events = append(events, ev) })
	require.NoError(t, err)

	var started, completed bool
	for _, ev := range events {
		if ev.Type == EventToolCall {
			switch ev.ToolCall.Status {
			case "started":
				started = true
			case "completed":
				completed = true
				assert.Equal(t, "delegated", ev.ToolCall.Result)
			}
		}
	}
	assert.True(t, started)
	assert.True(t, completed)
}

func TestCompleteSuppressesParentAfterChildContent(t *testing.T) {
	child := &childTool{events: []StreamEvent{
		{Type: EventContent, Agent: "researcher", Content: "child answer"},
		{Type: EventMetadata, Agent: "researcher", Metadata: map[string]interface{}{"confidence": 0.9}},
	}}
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{ToolCalls: []types.ToolCall{{ID: "tc-1", Name: "delegate", Input: map[string]interface{}{}}}},
		{Content: "parent restates the child answer", StopReason: "end_turn"},
	}}
	o := newTestOrchestrator(t, provider, child)

	var events []StreamEvent
	resp, err := o.Complete(context.Background(), types.RequestContext{TenantID: "acme"},
		[]types.Message{{Role: "user", Content: "go"}},
		func(ev StreamEvent) { events = append(events, ev) })
	require.NoError(t, err)

	var childContent, parentContent int
	for _, ev := range events {
		if ev.Type != EventContent {
			continue
		}
		if ev.Agent == "researcher" {
			childContent++
		} else {
			parentContent++
		}
	}
	assert.Equal(t, 1, childContent, "child delta reaches the client retagged")
	assert.Zero(t, parentContent, "parent deltas for the turn are suppressed")
	assert.Equal(t, "parent restates the child answer", resp.Content,
		"the response object still carries the parent's full text")
}

// approvalTool answers with a question for the human instead of a result.
type approvalTool struct{}

func (approvalTool) Name() string        { return "request_approval" }
func (approvalTool) Description() string { return "asks the user before acting" }
func (approvalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (approvalTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	return tools.ActionRequiredResult("Delete 14 resources tagged 'stale'?"), nil
}

func TestCompleteEmitsActionRequest(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{ToolCalls: []types.ToolCall{{ID: "tc-1", Name: "request_approval", Input: map[string]interface{}{}}}},
		{Content: "waiting on you", StopReason: "end_turn"},
	}}
	o := newTestOrchestrator(t, provider, approvalTool{})

	var events []StreamEvent
	_, err := o.Complete(context.Background(), types.RequestContext{TenantID: "acme"},
		[]types.Message{{Role: "user", Content: "clean up"}},
		func(ev StreamEvent) { events = append(events, ev) })
	require.NoError(t, err)

	var actionIdx, completedIdx int
	actionIdx, completedIdx = -1, -1
	for i, ev := range events {
		switch {
		case ev.Type == EventActionRequest:
			actionIdx = i
			assert.Equal(t, "Delete 14 resources tagged 'stale'?", ev.Content)
			assert.Equal(t, "parent", ev.Agent)
		case ev.Type == EventToolCall && ev.ToolCall.Status == "completed":
			completedIdx = i
			assert.False(t, ev.ToolCall.IsError, "needing input is not a tool failure")
		}
	}
	require.GreaterOrEqual(t, actionIdx, 0, "action_request event emitted")
	assert.Greater(t, actionIdx, completedIdx, "question follows the completed tool call")
}

func TestCompleteEmitsErrorEvent(t *testing.T) {
	// One-response script with only tool calls trips the iteration cap.
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{ToolCalls: []types.ToolCall{{ID: "tc-1", Name: "delegate", Input: map[string]interface{}{}}}},
		{ToolCalls: []types.ToolCall{{ID: "tc-2", Name: "delegate", Input: map[string]interface{}{}}}},
	}}
	ag, err := agent.New(agent.Config{Name: "parent", Provider: provider,
		Tools: []tools.Tool{&childTool{}}, MaxIterations: 2})
	require.NoError(t, err)
	o, err := NewOrchestrator(OrchestratorConfig{Factory: &fakeBuilder{ag: ag}, Assembler: fakeAssembler{}})
	require.NoError(t, err)

	var events []StreamEvent
	_, err = o.Complete(context.Background(), types.RequestContext{TenantID: "acme"},
		[]types.Message{{Role: "user", Content: "go"}},
		func(ev StreamEvent) { events = append(events, ev) })
	require.Error(t, err)

	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, "error", last.FinishReason)
	errEvent := events[len(events)-2]
	require.Equal(t, EventError, errEvent.Type)
	assert.Equal(t, "max_iterations", errEvent.Error.Code)
	assert.True(t, errEvent.Error.Recoverable)
}

func TestChildSinkOverflowDrops(t *testing.T) {
	sink := NewChildSink(2)
	for i := 0; i < 5; i++ {
		sink.Push(StreamEvent{Type: EventContent, Content: "x"})
	}
	assert.Len(t, sink.Drain(), 2)
	assert.Equal(t, 3, sink.Dropped())
	assert.Empty(t, sink.Drain())
}
