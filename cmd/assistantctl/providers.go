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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/malike2356/abbis-sub018/orchestrator"
	"github.com/malike2356/abbis-sub018/orchestrator/config"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/shared/secrets"
)

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage LLM provider configuration",
	}

	cmd.AddCommand(providersListCmd())
	cmd.AddCommand(providersSetCmd())
	cmd.AddCommand(providersSealCmd())
	cmd.AddCommand(providersRefreshCmd())

	return cmd
}

// providerStore returns the configured store and, when it is the database,
// the writable storage.
func providerStore(cfg *config.Config) (llm.ConfigStore, *llm.PostgresStorage, func(), error) {
	if f := cfg.File(); f != nil && len(f.LLMProviders) > 0 {
		return config.NewFileStore(cfg.ConfigFile), nil, func() {}, nil
	}
	db, err := orchestrator.OpenConfiguredDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	storage := llm.NewPostgresStorage(db)
	return storage, storage, func() { _ = db.Close() }, nil
}

func providersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		Long: `List every configured provider, enabled or not, in failover order.

Examples:
  assistantctl providers list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, closeFn, err := providerStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			configs, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if len(configs) == 0 {
				fmt.Println("No providers configured; environment defaults will be used.")
				return nil
			}
			llm.SortByPriority(configs)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tENABLED\tPRIORITY\tMODEL\tSECRET\tUPDATED")
			for _, c := range configs {
				updated := "-"
				if !c.UpdatedAt.IsZero() {
					updated = c.UpdatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%s\t%s\n",
					c.Key, c.Enabled, c.FailoverPriority, orDash(c.Model), c.Secret.Source(), updated)
			}
			return w.Flush()
		},
	}
}

func providersSetCmd() *cobra.Command {
	var (
		key, model, baseURL, apiKey, secretARN string
		enabled                                bool
		priority, timeout                      int
		dailyLimit, monthlyLimit               int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update a provider row",
		Long: `Create or update a provider in the ai_provider_config table. API keys are
sealed with AI_ENCRYPTION_KEY before they are stored. The row is replaced
as a whole, so pass the credential again when updating other fields.

Examples:
  assistantctl providers set --key openai --enabled --priority 10 --api-key sk-...
  assistantctl providers set --key gemini --secret-arn arn:aws:secretsmanager:...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, storage, closeFn, err := providerStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if storage == nil {
				return fmt.Errorf("providers are defined in %s; edit the file instead", cfg.ConfigFile)
			}

			pc := llm.ProviderConfig{
				Key:              strings.ToLower(strings.TrimSpace(key)),
				Enabled:          enabled,
				FailoverPriority: priority,
				Model:            model,
				BaseURL:          baseURL,
				TimeoutSeconds:   timeout,
			}
			if cmd.Flags().Changed("daily-limit") {
				pc.DailyLimit = &dailyLimit
			}
			if cmd.Flags().Changed("monthly-limit") {
				pc.MonthlyLimit = &monthlyLimit
			}
			switch {
			case apiKey != "":
				sealed, err := seal(cfg, apiKey)
				if err != nil {
					return err
				}
				pc.Secret = secrets.Sealed(sealed)
			case secretARN != "":
				pc.Secret = secrets.Ref(secretARN)
			}

			if err := storage.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			if err := storage.Save(cmd.Context(), pc); err != nil {
				return err
			}
			fmt.Printf("✅ Saved %s\n", pc)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "Provider key, e.g. openai (required)")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "Enable the provider")
	cmd.Flags().IntVar(&priority, "priority", llm.DefaultFailoverPriority, "Failover priority, lower first")
	cmd.Flags().StringVar(&model, "model", "", "Default model")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Request timeout in seconds")
	cmd.Flags().IntVar(&dailyLimit, "daily-limit", 0, "Daily request limit")
	cmd.Flags().IntVar(&monthlyLimit, "monthly-limit", 0, "Monthly request limit")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to seal and store")
	cmd.Flags().StringVar(&secretARN, "secret-arn", "", "AWS Secrets Manager ARN holding the API key")

	return cmd
}

func providersSealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal",
		Short: "Seal an API key read from stdin",
		Long: `Seal an API key with AI_ENCRYPTION_KEY so it can be placed in the YAML
overlay (api_key_sealed) or settings_json.

Examples:
  echo -n "$OPENAI_KEY" | assistantctl providers seal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return err
			}
			sealed, err := seal(cfg, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			fmt.Println(sealed)
			return nil
		},
	}
}

func seal(cfg *config.Config, plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("empty API key")
	}
	if cfg.EncryptionKey == "" {
		return "", fmt.Errorf("AI_ENCRYPTION_KEY is required to seal API keys")
	}
	c, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return "", err
	}
	return c.Seal(plaintext)
}

func providersRefreshCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask a running service to reload provider configuration",
		Long: `Ask a running service to reload provider configuration. The request is
signed with JWT_SECRET as an admin principal.

Examples:
  assistantctl providers refresh --server http://localhost:8081`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			token, err := orchestrator.IssueToken([]byte(cfg.JWTSecret), orchestrator.Principal{UserID: "assistantctl", Role: "admin"}, time.Minute)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				strings.TrimRight(serverURL, "/")+"/api/v1/providers/refresh", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach service: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			var body struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
				Data    struct {
					Registered    []string          `json:"registered"`
					FailoverOrder []string          `json:"failover_order"`
					Skipped       map[string]string `json:"skipped"`
				} `json:"data"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)
			}
			if !body.Success {
				return fmt.Errorf("refresh failed (status %d): %s", resp.StatusCode, body.Message)
			}

			fmt.Printf("✅ Providers reloaded\n")
			fmt.Printf("   Registered: %s\n", strings.Join(body.Data.Registered, ", "))
			fmt.Printf("   Failover:   %s\n", strings.Join(body.Data.FailoverOrder, " → "))
			for k, reason := range body.Data.Skipped {
				fmt.Printf("   Skipped %s: %s\n", k, reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8081", "Assistant service base URL")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
