// Copyright 2024 AI SA Assistant Project
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
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/your-org/sql-analytics-agent/internal/glossary"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
)

func newCheckGlossaryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-glossary",
		Short: "List glossary terms and report references to undeclared key terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, false)
			if err != nil {
				return err
			}
			_, gloss, err := loadVocabulary(cfg.Catalog)
			if err != nil {
				return err
			}

			missing := writeGlossaryReport(cmd.OutOrStdout(), gloss)
			if missing > 0 {
				return fmt.Errorf("glossary references %d undeclared key terms", missing)
			}
			return nil
		},
	}
}

// writeGlossaryReport prints the key terms and any dangling references,
// returning how many references are dangling.
func writeGlossaryReport(w io.Writer, g *glossary.Glossary) int {
	synonymsOf := map[string]int{}
	for _, s := range g.Synonyms {
		synonymsOf[glossary.Normalize(s.Term)]++
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key term", "In database", "Synonyms"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	for _, t := range g.KeyTerms {
		table.Append([]string{t.Name, strconv.FormatBool(t.ExistsInDatabase), strconv.Itoa(synonymsOf[glossary.Normalize(t.Name)])})
	}
	table.Render()

	missing := g.CheckConsistency()
	if len(missing) == 0 {
		_, _ = fmt.Fprintf(w, "\n%d key terms, %d synonyms, %d related groups: consistent\n",
			len(g.KeyTerms), len(g.Synonyms), len(g.RelatedTerms))
		return 0
	}
	_, _ = fmt.Fprintln(w, "\nUndeclared key terms:")
	for _, term := range missing {
		_, _ = fmt.Fprintf(w, "  - %s\n", term)
	}
	return len(missing)
}

func newSchemaDocCmd(configPath *string) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "schema-doc",
		Short: "Print the schema documentation given to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, false)
			if err != nil {
				return err
			}
			cat, _, err := loadVocabulary(cfg.Catalog)
			if err != nil {
				return err
			}

			if refresh {
				logger, _, err := initializeLogger(cfg.Logging, true)
				if err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()

				executor, err := warehouse.NewSQLExecutor(cfg.Warehouse, logger.Named("warehouse"))
				if err != nil {
					return err
				}
				defer func() { _ = executor.Close() }()

				ctx, cancel := context.WithTimeout(cmd.Context(), catalogRefreshBudget)
				defer cancel()
				if err := cat.Refresh(ctx, executor, logger.Named("catalog")); err != nil {
					return err
				}
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), cat.Documentation())
			return err
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-read column values and date ranges from the warehouse first")
	return cmd
}
