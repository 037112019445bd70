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
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/agent"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/session"
	"github.com/teradata-labs/rem/pkg/types"
)

// AgentBuilder constructs a run-ready agent for a request.
// *agent.Factory implements it.
type AgentBuilder interface {
	Build(ctx context.Context, rc types.RequestContext) (*agent.Agent, error)
}

// ContextAssembler builds the full prompt for a turn.
// *session.Assembler implements it.
type ContextAssembler interface {
	Assemble(ctx context.Context, rc types.RequestContext, newTurns []types.Message) ([]types.Message, error)
}

// OrchestratorConfig wires a streaming orchestrator.
type OrchestratorConfig struct {
	Factory   AgentBuilder
	Assembler ContextAssembler
	Sessions  *session.Store

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Orchestrator bridges an agent run onto a client-facing event stream,
// interleaving child-agent events and persisting the completed exchange.
type Orchestrator struct {
	factory   AgentBuilder
	assembler ContextAssembler
	sessions  *session.Store
	tracer    observability.Tracer
	logger    *zap.Logger
}

// NewOrchestrator creates a streaming orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		factory:   cfg.Factory,
		assembler: cfg.Assembler,
		sessions:  cfg.Sessions,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}, nil
}

// Complete runs one chat exchange, emitting stream events as they are
// produced. The emit callback is invoked from the run goroutine in
// emission order. A nil emit runs the exchange without streaming.
func (o *Orchestrator) Complete(ctx context.Context, rc types.RequestContext, turns []types.Message, emit func(StreamEvent)) (*agent.Response, error) {
	ctx, span := o.tracer.StartSpan(ctx, "server.complete")
	defer o.tracer.EndSpan(span)
	span.SetAttribute("session_id", rc.SessionID)

	rc = rc.Normalized()
	if emit == nil {
		emit = func(StreamEvent) {}
	}

	resp, err := o.run(ctx, rc, turns, emit)
	if err != nil {
		o.tracer.RecordError(span, err)
		emit(StreamEvent{Type: EventError, Error: classify(err)})
		emit(StreamEvent{Type: EventDone, FinishReason: "error"})
		return nil, err
	}

	emit(StreamEvent{Type: EventMetadata, Metadata: map[string]interface{}{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}})
	emit(StreamEvent{Type: EventDone, FinishReason: finishReason(resp.StopReason)})
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, rc types.RequestContext, turns []types.Message, emit func(StreamEvent)) (*agent.Response, error) {
	messages, err := o.assembler.Assemble(ctx, rc, turns)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}

	ag, err := o.factory.Build(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}

	sink := NewChildSink(0)
	ctx = WithChildSink(ctx, sink)

	// childContentThisTurn implements the duplicate-content guard: once
	// any child content delta reaches the client, the parent's own text
	// deltas for the remainder of that turn are suppressed.
	childContentThisTurn := false

	drain := func() {
		for _, ev := range sink.Drain() {
			if ev.Type == EventContent {
				childContentThisTurn = true
			}
			emit(ev)
		}
	}

	hooks := agent.Hooks{
		OnToken: func(token string) {
			drain()
			if childContentThisTurn {
				return
			}
			emit(StreamEvent{Type: EventContent, Agent: ag.Name(), Content: token})
		},
		OnThinking: func(text string) {
			drain()
			emit(StreamEvent{Type: EventReasoning, Agent: ag.Name(), Content: text})
		},
		OnToolCall: func(ev agent.ToolCallEvent) {
			drain()
			if ev.Status == "started" {
				// A new tool round opens the next turn.
				childContentThisTurn = false
			}
			emit(StreamEvent{Type: EventToolCall, Agent: ag.Name(), ToolCall: &ToolCallPayload{
				ID: ev.ID, Name: ev.Name, Status: ev.Status,
				Arguments: ev.Input, Result: ev.Result, IsError: ev.IsError,
			}})
			if ev.ActionRequired {
				// The tool is waiting on the human; surface its question
				// as a first-class event so clients can prompt for input.
				emit(StreamEvent{Type: EventActionRequest, Agent: ag.Name(), Content: ev.Result})
			}
		},
	}

	resp, err := ag.RunStream(ctx, messages, hooks)
	drain()
	if err != nil {
		return nil, err
	}

	if dropped := sink.Dropped(); dropped > 0 {
		o.logger.Warn("child events dropped", zap.Int("dropped", dropped))
	}

	if err := o.persist(ctx, rc, turns, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// persist appends the user turns and everything the run produced to the
// session store.
func (o *Orchestrator) persist(ctx context.Context, rc types.RequestContext, turns []types.Message, resp *agent.Response) error {
	if o.sessions == nil || rc.SessionID == "" {
		return nil
	}
	batch := make([]types.Message, 0, len(turns)+len(resp.Messages))
	batch = append(batch, turns...)
	batch = append(batch, resp.Messages...)
	if _, err := o.sessions.Append(ctx, rc, rc.SessionID, batch); err != nil {
		return fmt.Errorf("failed to persist exchange: %w", err)
	}
	return nil
}

// classify maps run errors onto wire error payloads.
func classify(err error) *ErrorPayload {
	var maxIters *agent.MaxIterationsError
	if errors.As(err, &maxIters) {
		return &ErrorPayload{Code: "max_iterations", Message: err.Error(), Recoverable: true}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ErrorPayload{Code: "canceled", Message: err.Error(), Recoverable: false}
	}
	return &ErrorPayload{Code: "internal", Message: err.Error(), Recoverable: false}
}

func finishReason(stopReason string) string {
	if stopReason == "" {
		return "stop"
	}
	return stopReason
}
