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

// Package querygen writes one SQL query per analytical intent.
package querygen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
)

// ErrNoIntents is returned when there is nothing to generate
var ErrNoIntents = errors.New("no analytical intents to generate queries for")

// Generator asks the model for SQL
type Generator struct {
	client llm.Client
	logger *zap.Logger
}

// NewGenerator creates a generator
func NewGenerator(client llm.Client, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}
}

// Generate returns one cleaned query per intent, in intent order. A
// multi-step intent yields a single query built from CTEs. A reply with a
// different number of queries than intents is malformed.
func (g *Generator) Generate(ctx context.Context, intents []string, schemaDoc, dialect string, sink streaming.Sink) ([]string, error) {
	if len(intents) == 0 {
		return nil, ErrNoIntents
	}

	list, err := llm.Structured[llm.QueryList](ctx, g.client, llm.Request{
		Operation: llm.OpGenerateQueries,
		System:    systemPrompt(dialect),
		User:      userPrompt(intents, schemaDoc),
	})
	if err != nil {
		return nil, fmt.Errorf("query generation: %w", err)
	}
	if len(list.Queries) != len(intents) {
		return nil, fmt.Errorf("query generation: %w: %d queries for %d intents",
			llm.ErrMalformedOutput, len(list.Queries), len(intents))
	}

	queries := make([]string, len(list.Queries))
	for i, q := range list.Queries {
		queries[i] = warehouse.CleanSQL(q)
	}

	streaming.OrNop(sink).Emit(streaming.StageQueryGeneration, fmt.Sprintf("SQL queries created: %d", len(queries)))
	g.logger.Debug("Generated queries", zap.Int("count", len(queries)), zap.String("dialect", dialect))
	return queries, nil
}

func systemPrompt(dialect string) string {
	return fmt.Sprintf(`You are a SQL expert and data modeler. Write %s queries that answer the analytical intents you are given, using only the tables and columns in the schema.

Requirements for every query:
- Return exactly one query per analytical intent, in the same order.
- Return raw SQL only. No comments such as "-- Query 1", no labels, no explanations.
- GROUP BY must list every non-aggregated SELECT expression.
- Every ORDER BY expression must also appear in SELECT.
- Filter text values with trim, lower and LIKE wildcards, for example trim(lower(firm_name)) LIKE '%%oak%%wealth%%'.
- Mind performance: use a scalar subquery inside CASE instead of a CROSS JOIN.

An intent containing "Step 1:", "Step 2:" and so on is one query built from CTEs:
- Each step becomes a CTE named after what it computes.
- Each CTE reads from the previous ones.
- The final SELECT returns the complete analysis.`, dialect)
}

func userPrompt(intents []string, schemaDoc string) string {
	var b strings.Builder
	b.WriteString("Analytical intents:\n")
	for i, intent := range intents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, intent)
	}
	b.WriteString("\nSchema:\n")
	b.WriteString(schemaDoc)
	return b.String()
}
