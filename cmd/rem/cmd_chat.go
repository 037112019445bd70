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
	"os"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/rem/pkg/server"
	"github.com/teradata-labs/rem/pkg/types"
)

var (
	chatServer  string
	chatSession string
	chatTenant  string
	chatUser    string
	chatModel   string
	chatSchema  string
)

var chatCmd = &cobra.Command{
	Use:   `chat "<prompt>"`,
	Short: "Send one prompt to a running REM server and stream the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := types.RequestContext{
			TenantID:    chatTenant,
			UserID:      chatUser,
			SessionID:   chatSession,
			Model:       chatModel,
			AgentSchema: chatSchema,
		}
		client := server.NewChatClient(chatServer, rc)

		err := client.Stream(cmd.Context(), args[0], func(ev server.StreamEvent) {
			switch ev.Type {
			case server.EventContent:
				fmt.Print(ev.Content)
			case server.EventReasoning:
				fmt.Fprintf(os.Stderr, "… %s\n", ev.Content)
			case server.EventToolCall:
				if ev.ToolCall != nil && ev.ToolCall.Status == "started" {
					fmt.Fprintf(os.Stderr, "[tool %s]\n", ev.ToolCall.Name)
				}
			case server.EventError:
				if ev.Error != nil {
					fmt.Fprintf(os.Stderr, "error: %s\n", ev.Error.Message)
				}
			case server.EventDone:
				fmt.Println()
			}
		})
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:8080", "REM server base URL")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id for persistent history")
	chatCmd.Flags().StringVar(&chatTenant, "tenant", types.DefaultTenant, "tenant scope")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user scope")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model override, <provider>:<model-id>")
	chatCmd.Flags().StringVar(&chatSchema, "agent", "", "agent schema name")
	rootCmd.AddCommand(chatCmd)
}
