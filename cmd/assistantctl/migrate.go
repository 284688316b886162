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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malike2356/abbis-sub018/common/usage"
	"github.com/malike2356/abbis-sub018/orchestrator"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the provider config and usage log tables",
		Long: `Create ai_provider_config and ai_usage_logs if they do not exist.

Examples:
  assistantctl migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := orchestrator.OpenConfiguredDB(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := usage.NewStore(db).EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("✅ ai_usage_logs ready")
			if err := llm.NewPostgresStorage(db).EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("✅ ai_provider_config ready")
			return nil
		},
	}
}
