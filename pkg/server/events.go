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

// Package server exposes the HTTP surface: OpenAI-compatible chat
// completions with SSE streaming, message and session endpoints, the
// model catalog, and the streaming orchestrator that bridges agent runs
// onto the wire.
package server

import "context"

// Stream event kinds.
const (
	EventContent       = "content"
	EventToolCall      = "tool_call"
	EventReasoning     = "reasoning"
	EventMetadata      = "metadata"
	EventActionRequest = "action_request"
	EventError         = "error"
	EventDone          = "done"
)

// ToolCallPayload describes a tool invocation boundary.
type ToolCallPayload struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"` // started or completed
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// ErrorPayload describes a stream-local failure.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// StreamEvent is one client-facing event on the chat stream.
type StreamEvent struct {
	Type string `json:"type"`

	// Agent tags the producing agent. Child-agent events carry the
	// child's name.
	Agent string `json:"agent,omitempty"`

	Content      string                 `json:"content,omitempty"`
	ToolCall     *ToolCallPayload       `json:"tool_call,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        *ErrorPayload          `json:"error,omitempty"`
	FinishReason string                 `json:"finish_reason,omitempty"`
}

// ChildSink is the bounded queue that collects events from subordinate
// agents spawned inside tool invocations. The orchestrator drains it at
// safe points and interleaves the events into the outer stream. Pushes
// never block: when the queue is full the event is dropped and counted.
type ChildSink struct {
	ch      chan StreamEvent
	dropped chan int
}

// DefaultChildSinkCapacity bounds the per-request child event queue.
const DefaultChildSinkCapacity = 256

// NewChildSink creates a sink with the given capacity.
func NewChildSink(capacity int) *ChildSink {
	if capacity <= 0 {
		capacity = DefaultChildSinkCapacity
	}
	s := &ChildSink{
		ch:      make(chan StreamEvent, capacity),
		dropped: make(chan int, 1),
	}
	s.dropped <- 0
	return s
}

// Push enqueues a child event without blocking.
func (s *ChildSink) Push(ev StreamEvent) {
	select {
	case s.ch <- ev:
	default:
		n := <-s.dropped
		s.dropped <- n + 1
	}
}

// Drain returns all queued events without blocking. Single consumer.
func (s *ChildSink) Drain() []StreamEvent {
	var out []StreamEvent
	for {
		select {
		case ev := <-s.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Dropped reports how many events overflowed the queue.
func (s *ChildSink) Dropped() int {
	n := <-s.dropped
	s.dropped <- n
	return n
}

type childSinkKey struct{}

// WithChildSink attaches the request's sink to the context so tools that
// spawn subordinate agents can emit into the outer stream.
func WithChildSink(ctx context.Context, sink *ChildSink) context.Context {
	return context.WithValue(ctx, childSinkKey{}, sink)
}

// ChildSinkFrom returns the request's sink, or nil outside a streaming
// request.
func ChildSinkFrom(ctx context.Context) *ChildSink {
	sink, _ := ctx.Value(childSinkKey{}).(*ChildSink)
	return sink
}
