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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/tools"
	"github.com/teradata-labs/rem/pkg/types"
)

// DefaultMaxIterations bounds the tool loop when the schema sets no cap.
const DefaultMaxIterations = 10

// eventResultLimit truncates tool results in streamed events. The full
// result still goes back to the model.
const eventResultLimit = 2000

// MaxIterationsError reports that the tool loop hit its iteration cap
// without the model producing a final answer.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("agent exceeded %d iterations without a final answer", e.Limit)
}

// ToolExecution records one completed tool invocation.
type ToolExecution struct {
	ID       string
	Name     string
	Input    map[string]interface{}
	Result   string
	IsError  bool
	Duration time.Duration
}

// ToolCallEvent is emitted at tool invocation boundaries.
type ToolCallEvent struct {
	ID     string
	Name   string
	Status string // "started" or "completed"
	Input  map[string]interface{}

	// Result is the truncated tool output, set on completion.
	Result  string
	IsError bool

	// ActionRequired is set on completion when the tool is waiting on
	// input from the human user; Result carries the question.
	ActionRequired bool
}

// Hooks receive streaming callbacks during a run. All callbacks are
// invoked synchronously from the run goroutine.
type Hooks struct {
	OnToken    types.TokenCallback
	OnThinking types.TokenCallback
	OnToolCall func(ToolCallEvent)
}

// Response is the result of a completed agent run.
type Response struct {
	Content string

	// Output is the contract-validated object, nil when the agent has no
	// output contract.
	Output map[string]interface{}

	// Messages are the turns appended during the run (assistant and tool
	// messages), ready to persist.
	Messages []types.Message

	ToolExecutions []ToolExecution
	Usage          types.Usage
	StopReason     string
}

// Config assembles an agent.
type Config struct {
	Name         string
	Provider     types.LLMProvider
	SystemPrompt string
	Tools        []tools.Tool

	// Contract validates the final output when set.
	Contract *Contract

	// MaxIterations caps provider round-trips per run.
	MaxIterations int

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Agent runs the provider-tool iteration loop: call the model, execute
// any requested tools, feed results back, repeat until the model answers
// or the iteration cap trips.
type Agent struct {
	name         string
	provider     types.LLMProvider
	systemPrompt string
	contract     *Contract
	maxIters     int
	tracer       observability.Tracer
	logger       *zap.Logger

	toolsByName []tools.Tool
	descriptors []types.ToolDescriptor
}

// New creates an agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	descriptors := make([]types.ToolDescriptor, len(cfg.Tools))
	for i, t := range cfg.Tools {
		descriptors[i] = tools.Descriptor(t)
	}

	return &Agent{
		name:         cfg.Name,
		provider:     cfg.Provider,
		systemPrompt: cfg.SystemPrompt,
		contract:     cfg.Contract,
		maxIters:     cfg.MaxIterations,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger.With(zap.String("agent", cfg.Name)),
		toolsByName:  cfg.Tools,
		descriptors:  descriptors,
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Tools returns the agent's tool descriptors.
func (a *Agent) Tools() []types.ToolDescriptor { return a.descriptors }

// Run executes the loop without streaming.
func (a *Agent) Run(ctx context.Context, messages []types.Message) (*Response, error) {
	return a.run(ctx, messages, Hooks{})
}

// RunStream executes the loop, streaming tokens and tool boundaries
// through hooks when the provider supports it.
func (a *Agent) RunStream(ctx context.Context, messages []types.Message, hooks Hooks) (*Response, error) {
	return a.run(ctx, messages, hooks)
}

func (a *Agent) run(ctx context.Context, messages []types.Message, hooks Hooks) (*Response, error) {
	ctx, span := a.tracer.StartSpan(ctx, "agent.run")
	defer a.tracer.EndSpan(span)
	span.SetAttribute("agent", a.name)
	span.SetAttribute("model", a.provider.Model())

	conversation := a.withSystemPrompt(messages)
	resp := &Response{}

	for iteration := 0; iteration < a.maxIters; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		llmResp, err := a.chat(ctx, conversation, hooks)
		if err != nil {
			a.tracer.RecordError(span, err)
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}

		resp.Usage.InputTokens += llmResp.Usage.InputTokens
		resp.Usage.OutputTokens += llmResp.Usage.OutputTokens
		resp.Usage.TotalTokens += llmResp.Usage.TotalTokens

		if llmResp.Thinking != "" && hooks.OnThinking != nil {
			hooks.OnThinking(llmResp.Thinking)
		}

		if len(llmResp.ToolCalls) == 0 {
			resp.Content = llmResp.Content
			resp.StopReason = llmResp.StopReason
			final := types.Message{Role: "assistant", Content: llmResp.Content, Timestamp: time.Now().UTC()}
			resp.Messages = append(resp.Messages, final)

			if a.contract != nil {
				output, err := a.contract.ParseOutput(llmResp.Content)
				if err != nil {
					a.tracer.RecordError(span, err)
					return nil, fmt.Errorf("agent output rejected: %w", err)
				}
				resp.Output = output
			}
			span.SetAttribute("iterations", iteration+1)
			return resp, nil
		}

		assistantTurn := types.Message{
			Role:      "assistant",
			Content:   llmResp.Content,
			ToolCalls: llmResp.ToolCalls,
			Timestamp: time.Now().UTC(),
		}
		conversation = append(conversation, assistantTurn)
		resp.Messages = append(resp.Messages, assistantTurn)

		for _, call := range llmResp.ToolCalls {
			toolTurn, exec := a.executeTool(ctx, call, hooks)
			conversation = append(conversation, toolTurn)
			resp.Messages = append(resp.Messages, toolTurn)
			resp.ToolExecutions = append(resp.ToolExecutions, exec)
		}
	}

	err := &MaxIterationsError{Limit: a.maxIters}
	a.tracer.RecordError(span, err)
	return nil, err
}

func (a *Agent) chat(ctx context.Context, messages []types.Message, hooks Hooks) (*types.LLMResponse, error) {
	if hooks.OnToken != nil {
		if streamer, ok := a.provider.(types.StreamingLLMProvider); ok {
			return streamer.ChatStream(ctx, messages, a.descriptors, hooks.OnToken)
		}
	}
	resp, err := a.provider.Chat(ctx, messages, a.descriptors)
	if err == nil && hooks.OnToken != nil && resp.Content != "" {
		// Non-streaming provider: deliver the answer as one token.
		hooks.OnToken(resp.Content)
	}
	return resp, err
}

func (a *Agent) executeTool(ctx context.Context, call types.ToolCall, hooks Hooks) (types.Message, ToolExecution) {
	if hooks.OnToolCall != nil {
		hooks.OnToolCall(ToolCallEvent{ID: call.ID, Name: call.Name, Status: "started", Input: call.Input})
	}

	start := time.Now()
	content, isError, actionRequired := a.invoke(ctx, call)
	exec := ToolExecution{
		ID:       call.ID,
		Name:     call.Name,
		Input:    call.Input,
		Result:   content,
		IsError:  isError,
		Duration: time.Since(start),
	}

	a.logger.Debug("tool executed",
		zap.String("tool", call.Name),
		zap.Bool("is_error", isError),
		zap.Duration("duration", exec.Duration))

	if hooks.OnToolCall != nil {
		hooks.OnToolCall(ToolCallEvent{
			ID: call.ID, Name: call.Name, Status: "completed", Input: call.Input,
			Result: truncate(content, eventResultLimit), IsError: isError,
			ActionRequired: actionRequired,
		})
	}

	return types.Message{
		Role:      "tool",
		Content:   content,
		ToolUseID: call.ID,
		Timestamp: time.Now().UTC(),
	}, exec
}

// invoke runs the named tool. Failures become readable tool results so
// the model can correct itself instead of aborting the run.
func (a *Agent) invoke(ctx context.Context, call types.ToolCall) (content string, isError, actionRequired bool) {
	tool := a.findTool(call.Name)
	if tool == nil {
		return fmt.Sprintf("unknown tool %q", call.Name), true, false
	}
	result, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", call.Name, err), true, false
	}
	return result.Content, result.IsError, result.ActionRequired
}

func (a *Agent) findTool(name string) tools.Tool {
	for _, t := range a.toolsByName {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (a *Agent) withSystemPrompt(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages)+1)
	if a.systemPrompt != "" && (len(messages) == 0 || messages[0].Role != "system") {
		out = append(out, types.Message{Role: "system", Content: a.systemPrompt})
	}
	return append(out, messages...)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "… (truncated)"
}
