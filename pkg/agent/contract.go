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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/xeipuuv/gojsonschema"
)

// Contract is a runtime-validated output shape derived from an agent
// schema's properties block.
type Contract struct {
	schema map[string]interface{}
}

// NewContract builds a contract from a JSON Schema document, applying the
// compatibility pass for the named provider.
func NewContract(schema map[string]interface{}, provider string) (*Contract, error) {
	if schema == nil {
		return nil, fmt.Errorf("contract schema is required")
	}
	adjusted := applyProviderPass(schema, provider)

	// Compile once up front so malformed schemas fail at build time.
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(adjusted)); err != nil {
		return nil, fmt.Errorf("failed to compile output contract: %w", err)
	}
	return &Contract{schema: adjusted}, nil
}

// Schema returns the provider-adjusted JSON Schema document.
func (c *Contract) Schema() map[string]interface{} { return c.schema }

// Validate checks a decoded output object against the contract.
func (c *Contract) Validate(output map[string]interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(c.schema), gojsonschema.NewGoLoader(output))
	if err != nil {
		return fmt.Errorf("contract validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("output violates contract: %s", strings.Join(problems, "; "))
}

// ParseOutput decodes model text into a contract-conforming object. The
// text may wrap the JSON in prose or a code fence, and the JSON itself may
// be slightly malformed; both are repaired before validation.
func (c *Contract) ParseOutput(text string) (map[string]interface{}, error) {
	obj, err := DecodeModelJSON(text)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// DecodeModelJSON extracts and decodes a JSON object from model text,
// repairing trailing commas, unquoted keys and similar damage.
func DecodeModelJSON(text string) (map[string]interface{}, error) {
	candidate := extractJSON(text)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, nil
	}

	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to repair model JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &obj); err != nil {
		return nil, fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return obj, nil
}

// extractJSON returns the outermost {...} span, tolerating code fences
// and surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// applyProviderPass adjusts a schema for provider-specific strictness.
// OpenAI structured outputs require closed objects and reject numeric
// range keywords; Anthropic accepts the schema as written.
func applyProviderPass(schema map[string]interface{}, provider string) map[string]interface{} {
	if provider != "openai" {
		return schema
	}
	out, _ := rewriteSchema(schema).(map[string]interface{})
	return out
}

func rewriteSchema(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, child := range node {
			if k == "minimum" || k == "maximum" || k == "exclusiveMinimum" || k == "exclusiveMaximum" {
				continue
			}
			out[k] = rewriteSchema(child)
		}
		if t, ok := out["type"].(string); ok && t == "object" {
			if _, ok := out["additionalProperties"]; !ok {
				out["additionalProperties"] = false
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, child := range node {
			out[i] = rewriteSchema(child)
		}
		return out
	default:
		return v
	}
}
