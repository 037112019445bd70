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
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/internal/pgxdriver"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	Postgres pgxdriver.Config
	Registry *rem.ModelRegistry

	// VectorDimensions sizes the embedding columns; zero selects the default.
	VectorDimensions int

	Tracer      observability.Tracer
	Logger      *zap.Logger
	AfterUpsert UpsertHook
}

// Store bundles the connection pool, the row adapter, the migrator, and the
// schema generator behind one open/migrate/close surface.
type Store struct {
	pool      *pgxpool.Pool
	adapter   *Adapter
	migrator  *Migrator
	generator *Generator
	tracer    observability.Tracer
}

// Open connects to PostgreSQL and wires the storage components. It does not
// touch the schema; call Migrate for that.
func Open(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Registry == nil {
		cfg.Registry = rem.DefaultRegistry()
	}

	ctx, span := cfg.Tracer.StartSpan(ctx, "storage.open")
	defer cfg.Tracer.EndSpan(span)

	pool, err := pgxdriver.NewPool(ctx, cfg.Postgres, cfg.Tracer)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	migrator, err := NewMigrator(pool, cfg.Tracer)
	if err != nil {
		pool.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	adapter := NewAdapter(AdapterConfig{
		Pool:        pool,
		Registry:    cfg.Registry,
		Tracer:      cfg.Tracer,
		Logger:      cfg.Logger,
		AfterUpsert: cfg.AfterUpsert,
	})

	return &Store{
		pool:      pool,
		adapter:   adapter,
		migrator:  migrator,
		generator: NewGenerator(cfg.Registry, cfg.VectorDimensions),
		tracer:    cfg.Tracer,
	}, nil
}

// Adapter returns the row adapter. It satisfies the query engine's store
// contract.
func (s *Store) Adapter() *Adapter { return s.adapter }

// Pool returns the underlying pgx pool for advanced callers.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrator returns the migration manager.
func (s *Store) Migrator() *Migrator { return s.migrator }

// Migrate brings the database fully current: versioned migrations first,
// then the registry-generated entity schema.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, span := s.tracer.StartSpan(ctx, "storage.migrate")
	defer s.tracer.EndSpan(span)

	if err := s.migrator.MigrateUp(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.generator.EnsureSchema(ctx, s.adapter, s.adapter); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to ensure entity schema: %w", err)
	}
	return nil
}

// EnsureVectorIndexes builds the HNSW indexes concurrently. Separate from
// Migrate because concurrent index builds cannot run inside a transaction
// and may take a while on a large corpus.
func (s *Store) EnsureVectorIndexes(ctx context.Context) error {
	ctx, span := s.tracer.StartSpan(ctx, "storage.ensure_vector_indexes")
	defer s.tracer.EndSpan(span)

	for _, stmt := range s.generator.VectorIndexDDL() {
		if _, err := s.adapter.Execute(ctx, stmt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to build vector index: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
