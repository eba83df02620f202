// Copyright (c) 2026 John Earle
//
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

	"github.com/lemon/casesync/internal/app"
	"github.com/lemon/casesync/internal/config"
	"github.com/lemon/casesync/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync every eligible case now",
	Long: `Run walks every open case with a case number and a court, fetches its
court page, stores the new history and hearing records, and notifies the
people following the case.

Interrupting the command lets the case in progress finish before exiting.

Examples:
  # Run a full sync with the settings in config.yaml
  casesync run

  # Use another config file
  CONFIG_PATH=/etc/casesync/config.yaml casesync run`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var caseID int64

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Sync a single case by id",
	Long: `Case syncs one case regardless of paging, which is useful after fixing a
case number or client name.

Examples:
  casesync case --id 189`,
	Args: cobra.NoArgs,
	RunE: runCase,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(caseCmd)

	caseCmd.Flags().Int64Var(&caseID, "id", 0, "Case id (erp_cases.id)")
	caseCmd.MarkFlagRequired("id")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, pipeline.MethodManual)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return printJSON(summary)
}

func runCase(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, pipeline.MethodManual)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Runner.RunCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("case %d: %w", caseID, err)
	}
	return printJSON(res)
}
