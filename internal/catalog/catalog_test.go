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

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/sql-analytics-agent/internal/glossary"
)

const smallCatalog = `
tables:
  - name: public.sales
    description: Daily sales
    columns:
      - name: sale_date
        description: Day of the sale
        date_range: sales dates between 2024-01-01 and 2024-03-31
      - name: region
        description: Sales region
        values: [East, West]
  - name: public.client
    description: Clients
    columns:
      - name: client_id
        description: Client identifier
relationships:
  - key1: public.sales.client_id
    key2: public.client.client_id
  - key1: public.client.client_id
    key2: public.sales.client_id
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDocumentation(t *testing.T) {
	c, err := Load(writeCatalog(t, smallCatalog))
	require.NoError(t, err)

	want := "Table public.sales: Daily sales Columns:\n" +
		"    sale_date: Day of the sale\n" +
		"    region: Sales region\n" +
		"\n" +
		"Table public.client: Clients Columns:\n" +
		"    client_id: Client identifier\n" +
		"\n" +
		"Relationships:\n" +
		"public.sales.client_id relates to public.client.client_id\n" +
		"\n" +
		"Important considerations about dates available:\n" +
		"public.sales.sale_date: sales dates between 2024-01-01 and 2024-03-31\n" +
		"\n" +
		"Column values:\n" +
		"public.sales.region column values: East, West\n"

	if diff := cmp.Diff(want, c.Documentation()); diff != "" {
		t.Errorf("Documentation() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no tables", "relationships: []\n"},
		{"unnamed table", "tables:\n  - description: x\n"},
		{"unnamed column", "tables:\n  - name: t\n    columns:\n      - description: x\n"},
		{"bad yaml", "tables: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCatalog(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Tables)

	doc := c.Documentation()
	assert.Contains(t, doc, "Table public.fact_revenue_monthly: Monthly fee and revenue calculations Columns:")
	assert.Contains(t, doc, "public.account.advisor_key relates to public.advisors.advisor_key")
	assert.Contains(t, doc, "Important considerations about dates available:")
}

func TestWithKeyTerms(t *testing.T) {
	res := glossary.Resolution{
		MatchedTerms: []glossary.Term{
			{Name: "net revenue", Definition: "Revenue retained by the firm."},
			{Name: "Household", QueryInstructions: "filter household.to_date = '9999-12-31'"},
		},
		Documentation: "client is synonym with household",
	}

	got := WithKeyTerms("BASE\n", res)
	want := "BASE\n" +
		"\nKey Terms:\n" +
		"  - net revenue: Revenue retained by the firm.\n" +
		"  - Household\n" +
		"    filter household.to_date = '9999-12-31'\n" +
		"\nclient is synonym with household\n"

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WithKeyTerms() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "BASE\n\nKey Terms:\n", WithKeyTerms("BASE\n", glossary.Resolution{}))
}

func TestDateRangesFor(t *testing.T) {
	c, err := Load(writeCatalog(t, smallCatalog))
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "qualified name",
			query: "SELECT region, SUM(amount) FROM public.sales GROUP BY region",
			want:  []string{"public.sales, column sale_date: sales dates between 2024-01-01 and 2024-03-31"},
		},
		{
			name:  "short name in join",
			query: "select c.client_id from client c join sales s on s.client_id = c.client_id",
			want:  []string{"public.sales, column sale_date: sales dates between 2024-01-01 and 2024-03-31"},
		},
		{
			name:  "cte names do not match loosely",
			query: "WITH s AS (SELECT 1) SELECT * FROM s",
			want:  nil,
		},
		{
			name:  "table without dates",
			query: "SELECT * FROM public.client",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, c.DateRangesFor(tt.query)); diff != "" {
				t.Errorf("DateRangesFor() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeRows struct {
	rows map[string][][]string
	err  map[string]error
}

func (f fakeRows) QueryRows(_ context.Context, query string) ([][]string, error) {
	if err, ok := f.err[query]; ok {
		return nil, err
	}
	return f.rows[query], nil
}

func TestRefresh(t *testing.T) {
	c := &Catalog{Tables: []Table{{
		Name: "public.sales",
		Columns: []Column{
			{Name: "region", ValuesQuery: "regions", Values: []string{"stale"}},
			{Name: "channel", ValuesQuery: "channels", Values: []string{"kept"}},
			{Name: "sale_date", DateRangeQuery: "dates"},
		},
	}}}

	q := fakeRows{
		rows: map[string][][]string{
			"regions": {{"East"}, {"West"}, {""}},
			"dates":   {{"sales dates between 2024-01-01 and 2024-03-31"}},
		},
		err: map[string]error{"channels": errors.New("no such table")},
	}

	require.NoError(t, c.Refresh(context.Background(), q, zaptest.NewLogger(t)))

	cols := c.Tables[0].Columns
	assert.Equal(t, []string{"East", "West"}, cols[0].Values)
	assert.Equal(t, []string{"kept"}, cols[1].Values)
	assert.Equal(t, "sales dates between 2024-01-01 and 2024-03-31", cols[2].DateRange)
}

func TestRefreshStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Catalog{Tables: []Table{{Name: "t", Columns: []Column{{Name: "c", ValuesQuery: "q"}}}}}
	err := c.Refresh(ctx, fakeRows{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.HasPrefix(c.Documentation(), "Table t:"))
}
