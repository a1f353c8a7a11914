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

// Package catalog describes the warehouse tables the agent may query and
// renders them into the schema document every prompt is grounded on.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/your-org/sql-analytics-agent/internal/glossary"
)

//go:embed sample_schema.yaml
var sampleSchema []byte

// Column describes one table column. Values and DateRange are pre-computed
// hints; the matching queries can refresh them from the warehouse.
type Column struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Values         []string `yaml:"values,omitempty"`
	ValuesQuery    string   `yaml:"values_query,omitempty"`
	DateRange      string   `yaml:"date_range,omitempty"`
	DateRangeQuery string   `yaml:"date_range_query,omitempty"`
}

// Table is a warehouse table, named as the SQL should reference it
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
}

// Relationship joins two fully qualified columns
type Relationship struct {
	Key1 string `yaml:"key1"`
	Key2 string `yaml:"key2"`
}

// Catalog is the schema known to the agent
type Catalog struct {
	Tables        []Table        `yaml:"tables"`
	Relationships []Relationship `yaml:"relationships"`
}

// Load reads a catalog YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema catalog: %w", err)
	}
	c, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema catalog %s: %w", path, err)
	}
	return c, nil
}

// Default returns the built-in wealth-management sample catalog
func Default() *Catalog {
	c, err := parse(sampleSchema)
	if err != nil {
		panic(fmt.Sprintf("embedded sample schema is invalid: %v", err))
	}
	return c
}

func parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("no tables defined")
	}
	for i, t := range c.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("table %d has no name", i)
		}
		for j, col := range t.Columns {
			if strings.TrimSpace(col.Name) == "" {
				return nil, fmt.Errorf("table %s: column %d has no name", t.Name, j)
			}
		}
	}
	return &c, nil
}

// Documentation renders the base schema document: tables and columns,
// relationships, known date ranges and enumerated column values.
func (c *Catalog) Documentation() string {
	var b strings.Builder

	for _, t := range c.Tables {
		fmt.Fprintf(&b, "Table %s: %s Columns:\n", t.Name, t.Description)
		for _, col := range t.Columns {
			fmt.Fprintf(&b, "    %s: %s\n", col.Name, col.Description)
		}
		b.WriteString("\n")
	}

	if len(c.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		seen := make(map[[2]string]bool, len(c.Relationships))
		for _, r := range c.Relationships {
			if seen[[2]string{r.Key1, r.Key2}] || seen[[2]string{r.Key2, r.Key1}] {
				continue
			}
			seen[[2]string{r.Key1, r.Key2}] = true
			fmt.Fprintf(&b, "%s relates to %s\n", r.Key1, r.Key2)
		}
		b.WriteString("\n")
	}

	var dates, values []string
	for _, t := range c.Tables {
		for _, col := range t.Columns {
			if col.DateRange != "" {
				dates = append(dates, fmt.Sprintf("%s.%s: %s", t.Name, col.Name, col.DateRange))
			}
			if len(col.Values) > 0 {
				values = append(values, fmt.Sprintf("%s.%s column values: %s", t.Name, col.Name, strings.Join(col.Values, ", ")))
			}
		}
	}

	if len(dates) > 0 {
		b.WriteString("Important considerations about dates available:\n")
		b.WriteString(strings.Join(dates, "\n"))
		b.WriteString("\n\n")
	}
	if len(values) > 0 {
		b.WriteString("Column values:\n")
		b.WriteString(strings.Join(values, "\n"))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// WithKeyTerms appends the key terms relevant to one question, and the
// resolver's substitution notes, to a base schema document.
func WithKeyTerms(base string, res glossary.Resolution) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\nKey Terms:\n")
	for _, t := range res.MatchedTerms {
		if t.Definition != "" {
			fmt.Fprintf(&b, "  - %s: %s\n", t.Name, t.Definition)
		} else {
			fmt.Fprintf(&b, "  - %s\n", t.Name)
		}
		if t.QueryInstructions != "" {
			fmt.Fprintf(&b, "    %s\n", t.QueryInstructions)
		}
	}
	if res.Documentation != "" {
		fmt.Fprintf(&b, "\n%s\n", res.Documentation)
	}
	return b.String()
}

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][\w.]*)`)

// ReferencedTables returns the catalog tables a query reads from, in
// catalog order. Names match either fully qualified or without the schema
// prefix, ignoring case.
func (c *Catalog) ReferencedTables(query string) []Table {
	refs := map[string]bool{}
	for _, m := range tableRefPattern.FindAllStringSubmatch(query, -1) {
		refs[strings.ToLower(m[1])] = true
	}

	var out []Table
	for _, t := range c.Tables {
		name := strings.ToLower(t.Name)
		short := name
		if i := strings.LastIndex(name, "."); i >= 0 {
			short = name[i+1:]
		}
		if refs[name] || refs[short] {
			out = append(out, t)
		}
	}
	return out
}

// DateRangesFor lists the known date ranges of every table the query reads
func (c *Catalog) DateRangesFor(query string) []string {
	var out []string
	for _, t := range c.ReferencedTables(query) {
		for _, col := range t.Columns {
			if col.DateRange != "" {
				out = append(out, fmt.Sprintf("%s, column %s: %s", t.Name, col.Name, col.DateRange))
			}
		}
	}
	return out
}

// RowQuerier runs a metadata query and returns every row as strings
type RowQuerier interface {
	QueryRows(ctx context.Context, query string) ([][]string, error)
}

// Refresh re-runs each column's values and date-range queries and stores
// the answers on the catalog. A failing query keeps the previous hint and
// is logged; Refresh only fails when ctx is done. Call it before the
// catalog is shared.
func (c *Catalog) Refresh(ctx context.Context, q RowQuerier, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	refreshed := 0
	for ti := range c.Tables {
		t := &c.Tables[ti]
		for ci := range t.Columns {
			col := &t.Columns[ci]

			if col.ValuesQuery != "" {
				rows, err := q.QueryRows(ctx, col.ValuesQuery)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if err != nil {
					logger.Warn("Failed to refresh column values",
						zap.String("table", t.Name),
						zap.String("column", col.Name),
						zap.Error(err))
				} else {
					col.Values = firstCells(rows)
					refreshed++
				}
			}

			if col.DateRangeQuery != "" {
				rows, err := q.QueryRows(ctx, col.DateRangeQuery)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if err != nil {
					logger.Warn("Failed to refresh date range",
						zap.String("table", t.Name),
						zap.String("column", col.Name),
						zap.Error(err))
				} else if cells := firstCells(rows); len(cells) > 0 {
					col.DateRange = cells[0]
					refreshed++
				}
			}
		}
	}

	logger.Info("Refreshed schema catalog hints", zap.Int("refreshed", refreshed))
	return nil
}

func firstCells(rows [][]string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 && row[0] != "" {
			out = append(out, row[0])
		}
	}
	return out
}
