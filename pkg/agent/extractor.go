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
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/types"
)

const extractorPrompt = `You compress conversation transcripts into durable "moments": named, self-contained episodic summaries a future agent can recall without the original messages.

Given a transcript, emit zero or more moments. A moment covers one coherent episode (a decision, a discovery, a topic discussed to a conclusion). Skip small talk. Name each moment as a lowercase slug starting with the date, e.g. "2026-08-24-q3-launch-scope".

Also emit an optional "user_summary_delta": new durable facts about the user learned in this transcript (preferences, role, ongoing projects), or empty if none.

Respond with ONLY a JSON object:
{
  "moments": [
    {
      "name": "<slug>",
      "summary": "<2-5 sentences>",
      "topic_tags": ["..."],
      "emotion_tags": ["..."],
      "present_persons": ["..."]
    }
  ],
  "user_summary_delta": "<text or empty>"
}`

// MomentCandidate is one extracted episode, not yet persisted.
type MomentCandidate struct {
	Name           string   `json:"name"`
	Summary        string   `json:"summary"`
	TopicTags      []string `json:"topic_tags,omitempty"`
	EmotionTags    []string `json:"emotion_tags,omitempty"`
	PresentPersons []string `json:"present_persons,omitempty"`
}

// Extraction is the extractor's full output for one transcript.
type Extraction struct {
	Moments          []MomentCandidate `json:"moments"`
	UserSummaryDelta string            `json:"user_summary_delta,omitempty"`
}

// Extractor turns transcripts into moment candidates via the LLM.
type Extractor struct {
	provider types.LLMProvider
	tracer   observability.Tracer
	logger   *zap.Logger
}

// ExtractorConfig configures a moment extractor.
type ExtractorConfig struct {
	Provider types.LLMProvider
	Tracer   observability.Tracer
	Logger   *zap.Logger
}

// NewExtractor creates a moment extractor.
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Extractor{provider: cfg.Provider, tracer: cfg.Tracer, logger: cfg.Logger}, nil
}

// Extract runs the extraction over a formatted transcript. previousKeys
// gives the model chaining context; userSummary is the current profile
// the delta should extend, both may be empty.
func (e *Extractor) Extract(ctx context.Context, transcript string, previousKeys []string, userSummary string) (*Extraction, error) {
	ctx, span := e.tracer.StartSpan(ctx, "agent.extractor.extract")
	defer e.tracer.EndSpan(span)

	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("transcript is empty")
	}

	var b strings.Builder
	if len(previousKeys) > 0 {
		fmt.Fprintf(&b, "Recent prior moments (for continuity, do not re-summarize them): %s\n\n",
			strings.Join(previousKeys, ", "))
	}
	if userSummary != "" {
		fmt.Fprintf(&b, "Current user summary:\n%s\n\n", userSummary)
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)

	resp, err := e.provider.Chat(ctx, []types.Message{
		{Role: "system", Content: extractorPrompt},
		{Role: "user", Content: b.String()},
	}, nil)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("extractor LLM call failed: %w", err)
	}

	obj, err := DecodeModelJSON(resp.Content)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("extractor output unreadable: %w", err)
	}

	extraction := decodeExtraction(obj)
	span.SetAttribute("moments", len(extraction.Moments))
	e.logger.Debug("moments extracted",
		zap.Int("count", len(extraction.Moments)),
		zap.Bool("user_delta", extraction.UserSummaryDelta != ""))
	return extraction, nil
}

func decodeExtraction(obj map[string]interface{}) *Extraction {
	out := &Extraction{}
	out.UserSummaryDelta, _ = obj["user_summary_delta"].(string)

	items, _ := obj["moments"].([]interface{})
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := MomentCandidate{
			Name:           stringField(m, "name"),
			Summary:        stringField(m, "summary"),
			TopicTags:      stringsField(m, "topic_tags"),
			EmotionTags:    stringsField(m, "emotion_tags"),
			PresentPersons: stringsField(m, "present_persons"),
		}
		if c.Name == "" || c.Summary == "" {
			continue
		}
		out.Moments = append(out.Moments, c)
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringsField(m map[string]interface{}, key string) []string {
	items, _ := m[key].([]interface{})
	var out []string
	for _, v := range items {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
