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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/rem/pkg/types"
)

var (
	queryTenant string
	queryUser   string
)

var queryCmd = &cobra.Command{
	Use:   `query "<dialect>"`,
	Short: "Execute an ad-hoc REM query",
	Long: `Executes one query in the REM dialect and prints the result as JSON.

Examples:
  rem query "LOOKUP doc-1"
  rem query "FUZZY quarterly report limit=5"
  rem query "SEARCH onboarding table=resources limit=3"
  rem query "SQL table=moments where=\"name LIKE '2026%'\" limit=10"
  rem query "TRAVERSE doc-1 rel_type=references depth=2"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx, config)
		if err != nil {
			return err
		}
		defer rt.close()

		rc := types.RequestContext{TenantID: queryTenant, UserID: queryUser}
		result, err := rt.engine.ExecuteText(ctx, rc, args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryTenant, "tenant", types.DefaultTenant, "tenant scope")
	queryCmd.Flags().StringVar(&queryUser, "user", "", "user scope (empty for anonymous)")
	rootCmd.AddCommand(queryCmd)
}
