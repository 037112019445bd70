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

// Package storage persists REM entities in PostgreSQL: row codec, upserts
// keyed by natural key, registry-driven schema generation, and migrations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/types"
)

// UpsertHook runs after a committed upsert, once per entity. The embedding
// worker registers one to enqueue re-embedding of changed rows.
type UpsertHook func(ctx context.Context, desc *rem.EntityDescriptor, ent rem.Entity)

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Pool     *pgxpool.Pool
	Registry *rem.ModelRegistry
	Tracer   observability.Tracer
	Logger   *zap.Logger

	// AfterUpsert is optional; see UpsertHook.
	AfterUpsert UpsertHook

	// MaxRetries bounds retry attempts for transient connection faults.
	// Zero means the default of 3.
	MaxRetries uint64
}

// Adapter executes SQL against the entity tables and satisfies the query
// engine's store contract. Transient connection faults are retried with
// exponential backoff; SQL errors are normalized into the REM error
// taxonomy.
type Adapter struct {
	pool        *pgxpool.Pool
	registry    *rem.ModelRegistry
	tracer      observability.Tracer
	logger      *zap.Logger
	afterUpsert UpsertHook
	maxRetries  uint64
}

// NewAdapter creates an Adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = rem.DefaultRegistry()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Adapter{
		pool:        cfg.Pool,
		registry:    cfg.Registry,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger,
		afterUpsert: cfg.AfterUpsert,
		maxRetries:  cfg.MaxRetries,
	}
}

// Registry returns the adapter's model registry.
func (a *Adapter) Registry() *rem.ModelRegistry { return a.registry }

// Execute runs a statement and returns the affected row count.
func (a *Adapter) Execute(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	ctx, span := a.tracer.StartSpan(ctx, "storage.execute")
	defer a.tracer.EndSpan(span)

	var affected int64
	err := a.withRetry(ctx, func() error {
		tag, err := a.pool.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, normalizeError(err)
	}
	return affected, nil
}

// FetchOne runs a query expected to match a single row. A miss is a
// not-found error.
func (a *Adapter) FetchOne(ctx context.Context, sql string, args ...interface{}) (map[string]interface{}, error) {
	rows, err := a.FetchMany(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, rem.NewNotFoundError("", "no rows matched")
	}
	return rows[0], nil
}

// FetchMany runs a query and returns all rows as column-name maps. This is
// the query engine's store contract.
func (a *Adapter) FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	ctx, span := a.tracer.StartSpan(ctx, "storage.fetch_many")
	defer a.tracer.EndSpan(span)

	var out []map[string]interface{}
	err := a.withRetry(ctx, func() error {
		rows, err := a.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		fields := rows.FieldDescriptions()
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			row := make(map[string]interface{}, len(fields))
			for i, fd := range fields {
				row[fd.Name] = values[i]
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, normalizeError(err)
	}
	span.SetAttribute("rows", len(out))
	return out, nil
}

// Upsert writes entities keyed by natural key: a fresh row is inserted, an
// existing row is updated in place. Envelope gaps are filled from the
// request context before encoding. Multiple entities commit in one
// transaction; ids are returned in input order.
func (a *Adapter) Upsert(ctx context.Context, rc types.RequestContext, entities ...rem.Entity) ([]string, error) {
	ctx, span := a.tracer.StartSpan(ctx, "storage.upsert")
	defer a.tracer.EndSpan(span)
	span.SetAttribute("count", len(entities))

	if len(entities) == 0 {
		return nil, nil
	}
	rc = rc.Normalized()

	type pending struct {
		desc *rem.EntityDescriptor
		ent  rem.Entity
		sql  string
		vals []interface{}
	}
	batch := make([]pending, 0, len(entities))

	now := time.Now().UTC()
	for _, ent := range entities {
		desc, ok := a.registry.ByKind(ent.Kind())
		if !ok {
			return nil, rem.NewValidationError("unregistered entity kind %q", ent.Kind())
		}
		fillEnvelope(ent, rc, now)

		cols, vals, err := EncodeRow(desc, ent)
		if err != nil {
			return nil, rem.NewValidationError("failed to encode %s: %v", desc.Kind, err)
		}
		batch = append(batch, pending{desc: desc, ent: ent, sql: upsertSQL(desc, cols), vals: vals})
	}

	// On a natural-key conflict the table keeps the existing row's id, not
	// the freshly generated one, so each statement returns the persisted id
	// and the envelope is corrected before anyone sees it.
	err := a.withRetry(ctx, func() error {
		return a.inTx(ctx, func(tx pgx.Tx) error {
			for _, p := range batch {
				var id string
				if err := tx.QueryRow(ctx, p.sql, p.vals...).Scan(&id); err != nil {
					return err
				}
				p.ent.Env().ID = id
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, normalizeError(err)
	}

	ids := make([]string, 0, len(entities))
	for _, p := range batch {
		ids = append(ids, p.ent.Env().ID)
	}

	if a.afterUpsert != nil {
		for _, p := range batch {
			a.afterUpsert(ctx, p.desc, p.ent)
		}
	}
	return ids, nil
}

// SoftDelete tombstones a row by id. The key-store trigger mirrors the
// tombstone so the key disappears from every query mode at once.
func (a *Adapter) SoftDelete(ctx context.Context, rc types.RequestContext, table, id string) error {
	ctx, span := a.tracer.StartSpan(ctx, "storage.soft_delete")
	defer a.tracer.EndSpan(span)
	span.SetAttribute("table", table)

	if _, ok := a.registry.ByTable(table); !ok {
		return rem.NewValidationError("unknown table %q", table)
	}
	rc = rc.Normalized()

	affected, err := a.Execute(ctx,
		fmt.Sprintf("UPDATE %s SET deleted_at = NOW(), updated_at = NOW() WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL", table),
		rc.TenantID, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return rem.NewNotFoundError(id, "no live row %s in %s", id, table)
	}
	return nil
}

// Transaction runs fn inside a transaction, committing on nil and rolling
// back otherwise.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	ctx, span := a.tracer.StartSpan(ctx, "storage.transaction")
	defer a.tracer.EndSpan(span)

	if err := a.inTx(ctx, fn); err != nil {
		span.RecordError(err)
		return normalizeError(err)
	}
	return nil
}

// AdvisoryLock runs fn while holding a session advisory lock, serializing
// cross-process work such as moment compaction per session.
func (a *Adapter) AdvisoryLock(ctx context.Context, lockID int64, fn func() error) error {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return normalizeError(err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return normalizeError(fmt.Errorf("failed to acquire advisory lock: %w", err))
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	}()

	return fn()
}

// TryAdvisoryLock runs fn only if the advisory lock is free, reporting
// whether it ran. Concurrent holders are not waited on; callers treat a
// false return as "someone else is already doing this work".
func (a *Adapter) TryAdvisoryLock(ctx context.Context, lockID int64, fn func() error) (bool, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return false, normalizeError(err)
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		return false, normalizeError(fmt.Errorf("failed to try advisory lock: %w", err))
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	}()

	return true, fn()
}

func (a *Adapter) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (a *Adapter) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		a.logger.Warn("retrying transient storage error",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	return backoff.Retry(wrapped, bo)
}

// fillEnvelope assigns the server-owned envelope columns an entity may
// leave blank. Explicit values (backdated timestamps, caller-chosen ids)
// pass through untouched.
func fillEnvelope(ent rem.Entity, rc types.RequestContext, now time.Time) {
	env := ent.Env()
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.TenantID == "" {
		env.TenantID = rc.TenantID
	}
	if env.UserID == "" {
		env.UserID = rc.UserID
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	if env.UpdatedAt.IsZero() {
		env.UpdatedAt = now
	}
}

// upsertSQL builds the insert-or-update statement for one entity table. The
// conflict target is the tenant-scoped natural key, or the id for kinds
// without one. Every non-key column is replaced on conflict; created_at is
// preserved and updated_at bumps. The statement returns the row's id,
// which on a conflict is the pre-existing one rather than the inserted
// value.
func upsertSQL(desc *rem.EntityDescriptor, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	conflictCols := conflictTarget(desc)
	skip := map[string]bool{"id": true, "tenant_id": true, "created_at": true, "updated_at": true}
	for _, c := range conflictCols {
		skip[c] = true
	}

	var sets []string
	for _, c := range cols {
		if skip[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	sets = append(sets, "updated_at = NOW()")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING id",
		desc.Table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "),
		strings.Join(sets, ", "),
	)
}

func conflictTarget(desc *rem.EntityDescriptor) []string {
	natural := desc.NaturalKeyColumns()
	if len(natural) == 0 {
		return []string{"id"}
	}
	return append([]string{"tenant_id"}, natural...)
}

// normalizeError maps driver errors onto the REM taxonomy. Unique
// violations become conflicts; everything else untyped becomes a query
// execution error.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	var remErr *rem.Error
	if errors.As(err, &remErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return rem.NewConflictError(pgErr.ConstraintName, err)
		}
	}
	return rem.NewQueryExecutionError(err)
}

// isRetryable reports whether an error is a transient connection fault
// worth retrying. SQL errors outside connection-exception class 08 are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err)
}
