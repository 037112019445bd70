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

// Package tools defines the agent-invokable tool surface: the Tool
// interface, the process-wide registry, and the built-in memory tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teradata-labs/rem/pkg/types"
)

// Result is the outcome of one tool invocation. Content is what the model
// reads; Data carries the structured form for programmatic consumers.
type Result struct {
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
	IsError bool        `json:"is_error,omitempty"`

	// ActionRequired marks a result that needs input from the human user
	// before the tool's work can proceed. Content carries the question.
	// The streaming surface forwards it as an action_request event.
	ActionRequired bool `json:"action_required,omitempty"`
}

// Tool is an agent-invokable operation with a typed argument schema.
type Tool interface {
	Name() string
	Description() string

	// InputSchema is the JSON Schema of the arguments object.
	InputSchema() map[string]interface{}

	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Descriptor converts a Tool to the provider-facing shape.
func Descriptor(t Tool) types.ToolDescriptor {
	return types.ToolDescriptor{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
	}
}

// TextResult builds a plain success result.
func TextResult(content string) *Result {
	return &Result{Content: content}
}

// JSONResult builds a result whose content is the JSON rendering of data.
func JSONResult(data interface{}) *Result {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Errorf("failed to render result: %w", err))
	}
	return &Result{Content: string(b), Data: data}
}

// ActionRequiredResult builds a result asking the human user for input.
// prompt is shown to both the model and the user.
func ActionRequiredResult(prompt string) *Result {
	return &Result{Content: prompt, ActionRequired: true}
}

// ErrorResult builds a tool-level failure the model can read and react to.
func ErrorResult(err error) *Result {
	return &Result{Content: err.Error(), IsError: true}
}

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

// optStringArg extracts an optional string argument.
func optStringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

// optFloatArg extracts an optional numeric argument with a default.
func optFloatArg(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

// optStringsArg extracts an optional list-of-strings argument.
func optStringsArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optMapArg extracts an optional object argument.
func optMapArg(args map[string]interface{}, key string) map[string]interface{} {
	m, _ := args[key].(map[string]interface{})
	return m
}
