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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/types"
)

func TestPlannerPlan(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `{"query": "FUZZY sarah chen", "confidence": 0.85, "reasoning": "loose name match"}`},
	}}
	p, err := NewPlanner(PlannerConfig{Provider: provider})
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), "who is sarah?")
	require.NoError(t, err)
	assert.Equal(t, "FUZZY sarah chen", plan.Query)
	assert.Equal(t, 0.85, plan.Confidence)
	assert.Equal(t, "loose name match", plan.Reasoning)
}

func TestPlannerRejectsInvalidQuery(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `{"query": "SELECT * FROM users", "confidence": 0.9}`},
	}}
	p, err := NewPlanner(PlannerConfig{Provider: provider})
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), "list users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")
}

func TestPlannerClampsConfidenceAndRepairsJSON(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: "```json\n{\"query\": \"LOOKUP doc-a\", \"confidence\": 1.4,}\n```"},
	}}
	p, err := NewPlanner(PlannerConfig{Provider: provider})
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), "get doc-a")
	require.NoError(t, err)
	assert.Equal(t, "LOOKUP doc-a", plan.Query)
	assert.Equal(t, 1.0, plan.Confidence)
}

func TestExtractorExtract(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `{
			"moments": [
				{
					"name": "2026-08-24-q3-launch-scope",
					"summary": "Agreed to cut the mobile milestone from the Q3 launch.",
					"topic_tags": ["q3-launch", "planning"],
					"present_persons": ["sarah"]
				},
				{"name": "", "summary": "dropped because unnamed"}
			],
			"user_summary_delta": "Prefers weekly written status updates."
		}`},
	}}
	e, err := NewExtractor(ExtractorConfig{Provider: provider})
	require.NoError(t, err)

	got, err := e.Extract(context.Background(),
		"user: let's cut mobile from Q3\nassistant: agreed",
		[]string{"2026-08-20-kickoff"}, "Works on the data platform.")
	require.NoError(t, err)

	require.Len(t, got.Moments, 1, "unnamed candidates are dropped")
	assert.Equal(t, "2026-08-24-q3-launch-scope", got.Moments[0].Name)
	assert.Equal(t, []string{"q3-launch", "planning"}, got.Moments[0].TopicTags)
	assert.Equal(t, "Prefers weekly written status updates.", got.UserSummaryDelta)

	// The prompt carries the chaining context and current summary.
	require.Len(t, provider.calls, 1)
	userTurn := provider.calls[0][1].Content
	assert.Contains(t, userTurn, "2026-08-20-kickoff")
	assert.Contains(t, userTurn, "Works on the data platform.")
}

func TestExtractorEmptyTranscript(t *testing.T) {
	e, err := NewExtractor(ExtractorConfig{Provider: &scriptedProvider{}})
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), "   ", nil, "")
	require.Error(t, err)
}
