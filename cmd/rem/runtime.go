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
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/internal/pgxdriver"
	"github.com/teradata-labs/rem/pkg/agent"
	"github.com/teradata-labs/rem/pkg/embedding"
	"github.com/teradata-labs/rem/pkg/llm/factory"
	"github.com/teradata-labs/rem/pkg/moment"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/scheduler"
	"github.com/teradata-labs/rem/pkg/server"
	"github.com/teradata-labs/rem/pkg/session"
	"github.com/teradata-labs/rem/pkg/storage"
	"github.com/teradata-labs/rem/pkg/tools"
)

// runtime holds the wired components shared by the subcommands.
type runtime struct {
	db       *storage.Store
	store    *storage.Adapter
	engine   *rem.Engine
	worker   *embedding.Worker
	sessions *session.Store
	builder  *moment.Builder
	sched    *scheduler.Scheduler
	factory  *agent.Factory
	loader   *agent.SchemaLoader
	registry *tools.Registry
	srv      *server.Server

	logger *zap.Logger
	tracer observability.Tracer
}

// llmConfig maps the CLI config onto provider construction.
func llmConfig(cfg *Config) factory.Config {
	return factory.Config{
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
	}
}

// buildRuntime wires every component. Callers close the runtime (and Stop
// the worker/scheduler/server when started).
func buildRuntime(ctx context.Context, cfg *Config) (*runtime, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer := observability.NewLogTracer(logger)

	registry := rem.DefaultRegistry()

	embedder := embedding.NewClient(embedding.Config{
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		Endpoint: cfg.Embedding.Endpoint,
	})

	// The worker needs the adapter as its executor and the adapter needs
	// the worker's hook, so the hook binds late through a closure.
	var upsertHook storage.UpsertHook
	db, err := storage.Open(ctx, storage.StoreConfig{
		Postgres: pgxdriver.Config{DSN: cfg.Database.URL},
		Registry: registry,
		Tracer:   tracer,
		Logger:   logger,
		AfterUpsert: func(ctx context.Context, desc *rem.EntityDescriptor, ent rem.Entity) {
			if upsertHook != nil {
				upsertHook(ctx, desc, ent)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	store := db.Adapter()

	worker := embedding.NewWorker(embedding.WorkerConfig{
		Provider: embedder,
		Executor: store,
		Tracer:   tracer,
		Logger:   logger,
	})
	upsertHook = worker.Hook()

	engine, err := rem.NewEngine(rem.EngineConfig{
		Store:    store,
		Registry: registry,
		Embedder: embedder,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	utilityLLM, err := factory.New(cfg.LLM.DefaultModel, llmConfig(cfg))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build LLM provider: %w", err)
	}

	planner, err := agent.NewPlanner(agent.PlannerConfig{Provider: utilityLLM, Tracer: tracer, Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterMemoryTools(toolRegistry, tools.MemoryToolsConfig{
		Engine:   engine,
		Store:    store,
		Registry: registry,
		Planner:  planner,
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	loader, err := agent.NewSchemaLoader(agent.SchemaLoaderConfig{
		Dir:    cfg.Schemas.Dir,
		Watch:  cfg.Schemas.Watch,
		Logger: logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	agentFactory, err := agent.NewFactory(agent.FactoryConfig{
		Loader:        loader,
		Registry:      toolRegistry,
		LLM:           llmConfig(cfg),
		DefaultModel:  cfg.LLM.DefaultModel,
		DefaultSchema: cfg.Schemas.Default,
		Tracer:        tracer,
		Logger:        logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sessions, err := session.NewStore(session.StoreConfig{Store: store, Tracer: tracer, Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	extractor, err := agent.NewExtractor(agent.ExtractorConfig{Provider: utilityLLM, Tracer: tracer, Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	builder, err := moment.NewBuilder(moment.Config{
		Store:         store,
		Locker:        store,
		Extractor:     extractor,
		LagMessages:   cfg.Compaction.LagMessages,
		LagPercentage: cfg.Compaction.LagPercentage,
		MinimumBatch:  cfg.Compaction.MinimumBatch,
		Tracer:        tracer,
		Logger:        logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Store:   store,
		Builder: builder,
		Cron:    cfg.Compaction.Cron,
		Tracer:  tracer,
		Logger:  logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	assembler, err := session.NewAssembler(session.AssemblerConfig{
		Sessions: sessions, Store: store, Tracer: tracer, Logger: logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	orchestrator, err := server.NewOrchestrator(server.OrchestratorConfig{
		Factory:   agentFactory,
		Assembler: assembler,
		Sessions:  sessions,
		Tracer:    tracer,
		Logger:    logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	srv, err := server.NewServer(server.Config{
		Addr:         cfg.Server.Addr,
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Store:        store,
		CORS:         server.DefaultCORSConfig(),
		Tracer:       tracer,
		Logger:       logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &runtime{
		db:       db,
		store:    store,
		engine:   engine,
		worker:   worker,
		sessions: sessions,
		builder:  builder,
		sched:    sched,
		factory:  agentFactory,
		loader:   loader,
		registry: toolRegistry,
		srv:      srv,
		logger:   logger,
		tracer:   tracer,
	}, nil
}

// close releases everything buildRuntime allocated but did not start.
func (rt *runtime) close() {
	rt.loader.Close()
	_ = rt.db.Close()
	_ = rt.logger.Sync()
}
