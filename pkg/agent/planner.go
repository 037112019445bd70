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

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/tools"
	"github.com/teradata-labs/rem/pkg/types"
)

const plannerPrompt = `You translate natural-language questions about stored memory into queries in the REM dialect. The dialect has five modes:

LOOKUP <key>[,<key>...]                            exact natural-key resolution
FUZZY <text> [threshold=0.3] [limit=10]            trigram match on keys and summaries
SEARCH <text> table=<t> [field=<f>] [limit=10]     semantic vector search
SQL table=<t> where="<clause>" [limit=100]         structured filter on one entity table
TRAVERSE <key> [rel_type=<r>[,<r>]] [depth=1]      walk graph edges (depth=0 lists edge types)

Tables: resources, messages, moments, users, files, schemas.

Respond with ONLY a JSON object:
{"query": "<dialect text>", "confidence": <0..1>, "reasoning": "<one sentence>"}

Prefer FUZZY when the question names something loosely, SEARCH for meaning-based questions, LOOKUP when an exact key is given, TRAVERSE for relationship questions. Confidence reflects how well the query captures the question, not how likely results exist.`

// Planner translates natural-language questions into dialect queries.
// It implements tools.QueryPlanner.
type Planner struct {
	provider types.LLMProvider
	tracer   observability.Tracer
	logger   *zap.Logger
}

// PlannerConfig configures a query planner.
type PlannerConfig struct {
	Provider types.LLMProvider
	Tracer   observability.Tracer
	Logger   *zap.Logger
}

// NewPlanner creates a query planner.
func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Planner{provider: cfg.Provider, tracer: cfg.Tracer, logger: cfg.Logger}, nil
}

// Plan emits the dialect query most likely to answer the question, with a
// confidence in [0,1]. The query is parse-checked before it is returned;
// low confidence is a signal for the caller, not an error.
func (p *Planner) Plan(ctx context.Context, question string) (*tools.QueryPlan, error) {
	ctx, span := p.tracer.StartSpan(ctx, "agent.planner.plan")
	defer p.tracer.EndSpan(span)

	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	resp, err := p.provider.Chat(ctx, []types.Message{
		{Role: "system", Content: plannerPrompt},
		{Role: "user", Content: question},
	}, nil)
	if err != nil {
		p.tracer.RecordError(span, err)
		return nil, fmt.Errorf("planner LLM call failed: %w", err)
	}

	obj, err := DecodeModelJSON(resp.Content)
	if err != nil {
		p.tracer.RecordError(span, err)
		return nil, fmt.Errorf("planner output unreadable: %w", err)
	}

	query, _ := obj["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("planner emitted no query")
	}
	if _, err := rem.Parse(query); err != nil {
		p.tracer.RecordError(span, err)
		return nil, fmt.Errorf("planner emitted invalid query %q: %w", query, err)
	}

	confidence := clamp01(floatField(obj, "confidence"))
	reasoning, _ := obj["reasoning"].(string)

	span.SetAttribute("query", query)
	span.SetAttribute("confidence", fmt.Sprintf("%.2f", confidence))
	p.logger.Debug("query planned",
		zap.String("query", query), zap.Float64("confidence", confidence))

	return &tools.QueryPlan{Query: query, Confidence: confidence, Reasoning: reasoning}, nil
}

func floatField(obj map[string]interface{}, key string) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
