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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/rem/pkg/types"
)

var (
	compactSession string
	compactTenant  string
	compactUser    string
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run moment compaction for one session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx, config)
		if err != nil {
			return err
		}
		defer rt.close()

		rc := types.RequestContext{
			TenantID:  compactTenant,
			UserID:    compactUser,
			SessionID: compactSession,
		}
		res := rt.builder.Run(ctx, rc, compactSession)
		if res.Err != nil {
			return res.Err
		}
		if res.Skipped {
			fmt.Println("compaction already running for this session, skipped")
			return nil
		}
		fmt.Printf("compaction complete: %d moment(s) created", res.MomentsCreated)
		if res.PartitionInserted {
			fmt.Print(", partition marker inserted")
		}
		fmt.Println()
		return nil
	},
}

func init() {
	compactCmd.Flags().StringVar(&compactSession, "session", "", "session id to compact (required)")
	compactCmd.Flags().StringVar(&compactTenant, "tenant", types.DefaultTenant, "tenant scope")
	compactCmd.Flags().StringVar(&compactUser, "user", "", "user whose summary receives extracted facts")
	_ = compactCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(compactCmd)
}
