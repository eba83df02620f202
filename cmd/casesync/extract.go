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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemon/casesync/internal/extract"
	"github.com/lemon/casesync/internal/models"
)

var extractFile string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print the records found in a saved case page",
	Long: `Extract reads a case page saved from the scraping service and prints the
court name, history rows, and hearing rows it contains. Nothing is stored.
Use it to check the table detection after the portal changes its layout.

Examples:
  casesync extract --file page.html
  curl -s ... | casesync extract --file -`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "-", "HTML file to read, - for stdin")
}

type extractOutput struct {
	Agency  string              `json:"agency"`
	History []models.HistoryRow `json:"history"`
	Trials  []models.TrialRow   `json:"trials"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if extractFile != "-" {
		f, err := os.Open(extractFile)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	markup := string(data)

	history, err := extract.HistoryRows(markup)
	if err != nil {
		return err
	}
	trials, err := extract.TrialRows(markup)
	if err != nil {
		return err
	}

	return printJSON(extractOutput{
		Agency:  extract.AgencyName(markup),
		History: history,
		Trials:  trials,
	})
}
