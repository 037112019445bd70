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

	"github.com/teradata-labs/rem/pkg/llm/factory"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/tools"
	"github.com/teradata-labs/rem/pkg/types"
)

// DefaultSchemaName is the agent schema used when the caller names none.
const DefaultSchemaName = "assistant"

// FactoryConfig wires the agent factory.
type FactoryConfig struct {
	Loader   *SchemaLoader
	Registry *tools.Registry

	// LLM configures provider construction; per-schema overrides apply
	// on top.
	LLM factory.Config

	// DefaultModel is the "<provider>:<model>" spec used when neither the
	// request nor the schema names one.
	DefaultModel string

	DefaultSchema string

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Factory builds agents from named schemas and a caller context.
type Factory struct {
	loader        *SchemaLoader
	registry      *tools.Registry
	llm           factory.Config
	defaultModel  string
	defaultSchema string
	tracer        observability.Tracer
	logger        *zap.Logger
}

// NewFactory creates an agent factory.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("schema loader is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.DefaultSchema == "" {
		cfg.DefaultSchema = DefaultSchemaName
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Factory{
		loader:        cfg.Loader,
		registry:      cfg.Registry,
		llm:           cfg.LLM,
		defaultModel:  cfg.DefaultModel,
		defaultSchema: cfg.DefaultSchema,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
	}, nil
}

// Build assembles an agent for the request: schema from the request
// override or the default, model resolved request > schema > factory
// default, tools resolved against the registry and wrapped so every
// invocation carries the caller's identity.
func (f *Factory) Build(ctx context.Context, rc types.RequestContext) (*Agent, error) {
	_, span := f.tracer.StartSpan(ctx, "agent.factory.build")
	defer f.tracer.EndSpan(span)

	rc = rc.Normalized()
	schemaName := rc.AgentSchema
	if schemaName == "" {
		schemaName = f.defaultSchema
	}
	span.SetAttribute("schema", schemaName)

	schema, err := f.loader.Load(schemaName)
	if err != nil {
		f.tracer.RecordError(span, err)
		return nil, err
	}

	modelSpec := rc.Model
	if modelSpec == "" {
		modelSpec = schema.Extensions.Model
	}
	if modelSpec == "" {
		modelSpec = f.defaultModel
	}
	span.SetAttribute("model", modelSpec)

	llmCfg := f.llm
	if schema.Extensions.Temperature != nil {
		llmCfg.Temperature = *schema.Extensions.Temperature
	}
	provider, err := factory.New(modelSpec, llmCfg)
	if err != nil {
		f.tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to build provider for schema %q: %w", schemaName, err)
	}

	agentTools, err := f.resolveTools(schema, rc)
	if err != nil {
		f.tracer.RecordError(span, err)
		return nil, err
	}

	var contract *Contract
	if schema.HasContract() {
		contract, err = NewContract(schema.ContractSchema(), provider.Name())
		if err != nil {
			f.tracer.RecordError(span, err)
			return nil, fmt.Errorf("schema %q: %w", schemaName, err)
		}
	}

	return New(Config{
		Name:          schema.Name,
		Provider:      provider,
		SystemPrompt:  schema.Description,
		Tools:         agentTools,
		Contract:      contract,
		MaxIterations: schema.Extensions.MaxIterations,
		Tracer:        f.tracer,
		Logger:        f.logger,
	})
}

// resolveTools maps the schema's tool references to registry tools,
// each wrapped with the caller's identity.
func (f *Factory) resolveTools(schema *Schema, rc types.RequestContext) ([]tools.Tool, error) {
	out := make([]tools.Tool, 0, len(schema.Extensions.Tools))
	for _, ref := range schema.Extensions.Tools {
		t, ok := f.registry.Get(ref)
		if !ok {
			return nil, fmt.Errorf("schema %q references unknown tool %q (registered: %v)",
				schema.Name, ref, f.registry.Names())
		}
		out = append(out, &contextTool{inner: t, rc: rc})
	}
	return out, nil
}

// contextTool pins the request identity onto every invocation so tools
// always see the builder's tenant and user, whatever context the loop
// passes down.
type contextTool struct {
	inner tools.Tool
	rc    types.RequestContext
}

func (c *contextTool) Name() string                        { return c.inner.Name() }
func (c *contextTool) Description() string                 { return c.inner.Description() }
func (c *contextTool) InputSchema() map[string]interface{} { return c.inner.InputSchema() }

func (c *contextTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	return c.inner.Execute(types.WithRequestContext(ctx, c.rc), args)
}
