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
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/storage"
	"github.com/teradata-labs/rem/pkg/types"
)

// Job is one pending re-embedding: the text of one embeddable field of one
// entity row.
type Job struct {
	Table    string
	EntityID string
	Field    string
	Text     string
}

// WorkerConfig configures the embedding worker. Zero values get defaults.
type WorkerConfig struct {
	Provider types.EmbeddingProvider
	Executor storage.Executor
	Model    string

	// QueueSize bounds the pending job queue; overflow drops the oldest
	// job rather than blocking the upsert path. Default 256.
	QueueSize int

	// BatchSize is the max inputs per provider call. Default 16.
	BatchSize int

	// FlushInterval bounds how long a partial batch waits. Default 2s.
	FlushInterval time.Duration

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Worker embeds changed rows in the background. Upserts enqueue jobs via
// the adapter hook; the worker batches them, calls the provider once per
// batch, and writes the vectors into the sibling embeddings tables.
// Embedding is best-effort: a row whose batch fails stays queryable by
// every mode except SEARCH until its next update.
type Worker struct {
	provider types.EmbeddingProvider
	executor storage.Executor
	model    string

	queue         chan Job
	batchSize     int
	flushInterval time.Duration

	tracer observability.Tracer
	logger *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker creates a worker. Call Start to begin draining the queue.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Model == "" && cfg.Provider != nil {
		if m, ok := cfg.Provider.(interface{ Model() string }); ok {
			cfg.Model = m.Model()
		}
	}
	return &Worker{
		provider:      cfg.Provider,
		executor:      cfg.Executor,
		model:         cfg.Model,
		queue:         make(chan Job, cfg.QueueSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the background drain loop.
func (w *Worker) Start() {
	go w.run()
}

// Stop shuts the worker down, draining whatever is already queued. It
// returns once the drain completes or the context expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("embedding worker did not drain in time: %w", ctx.Err())
	}
}

// Enqueue adds a job, dropping the oldest queued job when full. The write
// path never blocks on embedding.
func (w *Worker) Enqueue(job Job) {
	for {
		select {
		case w.queue <- job:
			return
		default:
		}
		select {
		case dropped := <-w.queue:
			w.logger.Warn("embedding queue full, dropping oldest job",
				zap.String("table", dropped.Table),
				zap.String("entity_id", dropped.EntityID))
		default:
		}
	}
}

// Hook returns the adapter hook that feeds the worker: every embeddable
// field with non-empty text on an upserted entity becomes one job.
// Tombstoned rows are skipped; their embeddings rows go stale but are
// filtered by the liveness join at query time.
func (w *Worker) Hook() storage.UpsertHook {
	return func(_ context.Context, desc *rem.EntityDescriptor, ent rem.Entity) {
		if ent.Env().DeletedAt != nil {
			return
		}
		fields := entityFieldText(ent)
		for _, f := range desc.Fields {
			if !f.Embeddable {
				continue
			}
			text := fields[f.Name]
			if text == "" {
				continue
			}
			w.Enqueue(Job{
				Table:    desc.Table,
				EntityID: ent.Env().ID,
				Field:    f.Name,
				Text:     text,
			})
		}
	}
}

func (w *Worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	var batch []Job
	for {
		select {
		case job := <-w.queue:
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = nil
			}
		case <-w.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case job := <-w.queue:
					batch = append(batch, job)
					if len(batch) >= w.batchSize {
						w.flush(batch)
						batch = nil
					}
				default:
					if len(batch) > 0 {
						w.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (w *Worker) flush(batch []Job) {
	ctx, span := w.tracer.StartSpan(context.Background(), "embedding.flush")
	defer w.tracer.EndSpan(span)
	span.SetAttribute("batch_size", len(batch))

	inputs := make([]string, len(batch))
	for i, job := range batch {
		inputs[i] = job.Text
	}

	vectors, err := w.provider.Embed(ctx, inputs, w.model)
	if err != nil {
		span.RecordError(err)
		w.logger.Warn("embedding batch failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return
	}

	for i, job := range batch {
		sql := fmt.Sprintf(`
			INSERT INTO embeddings_%s (entity_id, field_name, provider, model, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (entity_id, field_name, provider) DO UPDATE SET
				model = EXCLUDED.model,
				embedding = EXCLUDED.embedding,
				updated_at = NOW()`, job.Table)
		_, err := w.executor.Execute(ctx, sql,
			job.EntityID, job.Field, w.provider.Name(), w.model, pgvector.NewVector(vectors[i]))
		if err != nil {
			span.RecordError(err)
			w.logger.Warn("failed to store embedding",
				zap.String("table", job.Table),
				zap.String("entity_id", job.EntityID),
				zap.String("field", job.Field),
				zap.Error(err))
		}
	}
}

// entityFieldText flattens an entity to its string-valued fields by column
// name. Embeddable fields are TEXT columns, so non-strings are ignored.
func entityFieldText(ent rem.Entity) map[string]string {
	raw, err := json.Marshal(ent)
	if err != nil {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
