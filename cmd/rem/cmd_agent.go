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

	"github.com/spf13/cobra"

	"github.com/teradata-labs/rem/pkg/types"
)

var (
	agentSchema string
	agentModel  string
	agentTenant string
	agentUser   string
)

var agentCmd = &cobra.Command{
	Use:   `agent "<prompt>"`,
	Short: "Invoke an agent from a local schema file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx, config)
		if err != nil {
			return err
		}
		defer rt.close()

		rc := types.RequestContext{
			TenantID:    agentTenant,
			UserID:      agentUser,
			AgentSchema: agentSchema,
			Model:       agentModel,
		}
		ag, err := rt.factory.Build(ctx, rc)
		if err != nil {
			return err
		}

		resp, err := ag.Run(ctx, []types.Message{{Role: "user", Content: args[0]}})
		if err != nil {
			return err
		}

		if resp.Output != nil {
			out, err := json.MarshalIndent(resp.Output, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		fmt.Println(resp.Content)
		return nil
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentSchema, "schema", "", "agent schema name (default from config)")
	agentCmd.Flags().StringVar(&agentModel, "model", "", "model override, <provider>:<model-id>")
	agentCmd.Flags().StringVar(&agentTenant, "tenant", types.DefaultTenant, "tenant scope")
	agentCmd.Flags().StringVar(&agentUser, "user", "", "user scope")
	rootCmd.AddCommand(agentCmd)
}
