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

	"github.com/spf13/cobra"

	"github.com/teradata-labs/rem/internal/pgxdriver"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/storage"
)

var migrateDimensions int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the entity schema",
}

func openMigrationStore(ctx context.Context) (*storage.Store, *storage.Generator, observability.Tracer, error) {
	logger, err := newLogger(config.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	tracer := observability.NewLogTracer(logger)

	registry := rem.DefaultRegistry()
	db, err := storage.Open(ctx, storage.StoreConfig{
		Postgres:         pgxdriver.Config{DSN: config.Database.URL},
		Registry:         registry,
		VectorDimensions: migrateDimensions,
		Tracer:           tracer,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return db, storage.NewGenerator(registry, migrateDimensions), tracer, nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply migrations and generate missing tables, indexes, and triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, _, _, err := openMigrationStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if err := db.EnsureVectorIndexes(ctx); err != nil {
			return err
		}

		version, err := db.Migrator().CurrentVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema up to date (migration version %d)\n", version)
		return nil
	},
}

var migratePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what migrate up would change, without applying anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, gen, _, err := openMigrationStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		missing, err := gen.MissingColumns(ctx, db.Adapter())
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			fmt.Println("schema up to date, nothing to do")
			return nil
		}
		fmt.Printf("%d change(s) pending:\n", len(missing))
		for _, m := range missing {
			fmt.Printf("  %s\n", m)
		}
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().IntVar(&migrateDimensions, "dimensions", 1536,
		"embedding vector width for generated embeddings tables")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migratePlanCmd)
	rootCmd.AddCommand(migrateCmd)
}
