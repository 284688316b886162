// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/malike2356/abbis-sub018/orchestrator"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

func askCmd() *cobra.Command {
	var (
		user, role, page        string
		entityType, entityID    string
		provider, model, action string
		providers               []string
		maxTokens               int
		temperature             float64
		stream                  bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt through the assistant pipeline",
		Long: `Send one prompt through the full pipeline: usage limits, context
assembly, provider failover and the usage log.

Examples:
  assistantctl ask --user 7 "Which clients owe us money?"
  assistantctl ask --user 7 --page dashboard --bi --stream "Summarise today"
  assistantctl ask --user 7 --entity-type field_report --entity-id 12 "Explain the margin"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := orchestrator.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				c.Close(closeCtx)
			}()

			opts := orchestrator.RunOptions{
				UserID:    user,
				Role:      role,
				Action:    action,
				Provider:  provider,
				Providers: providers,
				Model:     model,
				MaxTokens: maxTokens,
			}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = llm.Float64(temperature)
			}
			if stream {
				opts.OnDelta = func(delta string) error {
					fmt.Print(delta)
					return nil
				}
			}

			resp, err := c.Assistant.RunAssistant(ctx, orchestrator.AssistantRequest{
				Messages:   []llm.Message{{Role: llm.RoleUser, Content: strings.Join(args, " ")}},
				Page:       page,
				EntityType: entityType,
				EntityID:   entityID,
			}, opts)
			if err != nil {
				pe := llm.AsProviderError("", err)
				if len(pe.Context) > 0 {
					return fmt.Errorf("%s: %s %v", pe.Category, pe.Message, pe.Context)
				}
				return fmt.Errorf("%s: %s", pe.Category, pe.Message)
			}

			if stream {
				fmt.Println()
			} else {
				fmt.Println(resp.Content())
			}
			fmt.Printf("\nprovider=%s tokens=%d (prompt %d, completion %d) latency=%dms\n",
				resp.ProviderKey, resp.TotalTokens(), resp.PromptTokens, resp.CompletionTokens, resp.LatencyMs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id the request is made for (required)")
	cmd.Flags().StringVar(&role, "role", "admin", "Role recorded in the usage log")
	cmd.Flags().StringVar(&action, "action", orchestrator.DefaultAction, "Action name used for usage limits")
	cmd.Flags().StringVar(&page, "page", "", "Current page, e.g. dashboard or modules/field-reports.php")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Entity type: field_report, quote_request, rig_request, client")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Entity id")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Force a single provider")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "Override the failover order")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the provider model")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Cap completion length")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the answer as it arrives")

	return cmd
}
