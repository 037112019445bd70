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
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/types"
)

func TestChatRequestConversion(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 1, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk", Endpoint: srv.URL, Model: "gpt-test"})
	resp, err := c.Chat(context.Background(), []types.Message{
		{Role: "system", Content: "helpful"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", ToolCalls: []types.ToolCall{{ID: "call-1", Name: "rem_query", Input: map[string]interface{}{"query": "LOOKUP a"}}}},
		{Role: "tool", ToolUseID: "call-1", Content: "found"},
	}, []types.ToolDescriptor{
		{Name: "rem_query", Description: "query memory"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk", gotAuth)
	assert.Equal(t, "gpt-test", gotReq.Model)

	require.Len(t, gotReq.Messages, 4)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	require.Len(t, gotReq.Messages[2].ToolCalls, 1)
	assert.Equal(t, "function", gotReq.Messages[2].ToolCalls[0].Type)
	assert.JSONEq(t, `{"query":"LOOKUP a"}`, gotReq.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call-1", gotReq.Messages[3].ToolCallID)

	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "function", gotReq.Tools[0].Type)
	assert.NotNil(t, gotReq.Tools[0].Function.Parameters, "missing schema defaults to empty object schema")

	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestChatToolCallResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call-9", "type": "function", "function": {"name": "rem_query", "arguments": "{\"query\":\"FUZZY sarah\"}"}}]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk", Endpoint: srv.URL})
	resp, err := c.Chat(context.Background(), []types.Message{{Role: "user", Content: "who"}}, nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-9", resp.ToolCalls[0].ID)
	assert.Equal(t, "rem_query", resp.ToolCalls[0].Name)
	assert.Equal(t, "FUZZY sarah", resp.ToolCalls[0].Input["query"])
	assert.Equal(t, "tool_calls", resp.StopReason)
}

func TestChatStream(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"rem_query","arguments":"{\"que"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ry\":\"LOOKUP a\"}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(stream))
	}))
	defer srv.Close()

	var tokens []string
	c := NewClient(Config{APIKey: "sk", Endpoint: srv.URL})
	resp, err := c.ChatStream(context.Background(),
		[]types.Message{{Role: "user", Content: "hi"}}, nil,
		func(token string) { tokens = append(tokens, token) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "LOOKUP a", resp.ToolCalls[0].Input["query"])
}

func TestChatAPIErrorSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk", Endpoint: srv.URL})
	_, err := c.Chat(context.Background(), []types.Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "bad key")
}
