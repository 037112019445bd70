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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REM HTTP server with background compaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx, config)
		if err != nil {
			return err
		}
		defer rt.close()

		rt.worker.Start()
		if err := rt.sched.Start(); err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- rt.srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			rt.logger.Info("shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := rt.srv.Stop(shutdownCtx); err != nil {
			rt.logger.Warn("server shutdown incomplete", zap.Error(err))
		}
		if err := rt.sched.Stop(shutdownCtx); err != nil {
			rt.logger.Warn("scheduler shutdown incomplete", zap.Error(err))
		}
		if err := rt.worker.Stop(shutdownCtx); err != nil {
			rt.logger.Warn("embedding worker shutdown incomplete", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
