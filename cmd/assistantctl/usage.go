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
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/malike2356/abbis-sub018/common/usage"
	"github.com/malike2356/abbis-sub018/orchestrator"
)

func usageCmd() *cobra.Command {
	var (
		user  string
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarise assistant usage for a user",
		Long: `Summarise the usage log for one user, grouped by action.

Examples:
  assistantctl usage --user 7
  assistantctl usage --user 7 --since 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := orchestrator.OpenConfiguredDB(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			summary, err := usage.NewStore(db).Summary(cmd.Context(), user, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Printf("No usage for user %s in the last %s.\n", user, since)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tREQUESTS\tFAILURES\tTOKENS")
			for _, a := range summary {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", a.Action, a.Requests, a.Failures, a.TotalTokens)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nLimits: %d per hour, %d per day (0 = unlimited)\n", cfg.HourlyLimit, cfg.DailyLimit)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id (required)")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window to summarise")
	return cmd
}
