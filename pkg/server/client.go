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
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/r3labs/sse/v2"

	"github.com/teradata-labs/rem/pkg/types"
)

// ChatClient consumes a running server's streaming chat endpoint over
// SSE. The CLI chat command uses it.
type ChatClient struct {
	endpoint string
	rc       types.RequestContext
}

// NewChatClient creates a client for the given base URL
// (e.g. "http://localhost:8080").
func NewChatClient(baseURL string, rc types.RequestContext) *ChatClient {
	return &ChatClient{
		endpoint: strings.TrimRight(baseURL, "/"),
		rc:       rc.Normalized(),
	}
}

// Stream sends one prompt and invokes onEvent for every stream event
// until the terminator arrives or the context is canceled.
func (c *ChatClient) Stream(ctx context.Context, prompt string, onEvent func(StreamEvent)) error {
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}

	streamURL := fmt.Sprintf("%s/api/v1/chat/completions?q=%s",
		c.endpoint, url.QueryEscape(prompt))
	client := sse.NewClient(streamURL)
	c.setIdentityHeaders(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var subErr error
	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		data := strings.TrimSpace(string(msg.Data))
		if data == "" {
			return
		}
		if data == "[DONE]" {
			cancel()
			return
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			subErr = fmt.Errorf("failed to decode stream event: %w", err)
			cancel()
			return
		}
		onEvent(ev)
	})
	if subErr != nil {
		return subErr
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream subscription failed: %w", err)
	}
	return nil
}

func (c *ChatClient) setIdentityHeaders(client *sse.Client) {
	headers := map[string]string{
		HeaderTenantID: c.rc.TenantID,
	}
	if c.rc.UserID != "" {
		headers[HeaderUserID] = c.rc.UserID
	}
	if c.rc.SessionID != "" {
		headers[HeaderSessionID] = c.rc.SessionID
	}
	if c.rc.Model != "" {
		headers[HeaderModelName] = c.rc.Model
	}
	if c.rc.AgentSchema != "" {
		headers[HeaderAgentSchema] = c.rc.AgentSchema
	}
	for k, v := range headers {
		client.Headers[k] = v
	}
}
