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

package execution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/sql-analytics-agent/internal/catalog"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/llm/llmtest"
	"github.com/your-org/sql-analytics-agent/internal/recovery"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
	"github.com/your-org/sql-analytics-agent/internal/tokens"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
	"github.com/your-org/sql-analytics-agent/internal/warehouse/warehousetest"
)

var lengthCounter = tokens.CounterFunc(func(s string) int { return len(s) })

const budget = 100

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{Tables: []catalog.Table{{
		Name: "public.revenue",
		Columns: []catalog.Column{
			{Name: "month", DateRange: "revenue dates between 2024-01-31 and 2024-12-31"},
			{Name: "amount"},
		},
	}}}
}

func newPipeline(t *testing.T, fake *llmtest.Fake, exec *warehousetest.Fake, workers int) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repairer := recovery.NewRepairer(fake, exec, 3, logger)
	refiner := recovery.NewRefiner(fake, lengthCounter, budget, 3, logger)
	return NewPipeline(fake, repairer, refiner, testCatalog(), workers, logger)
}

func scriptAnalysis(fake *llmtest.Fake) *llmtest.Fake {
	return fake.
		OnJSON(llm.OpQueryInsight, map[string]string{"insight": "Revenue peaked in December."}).
		OnJSON(llm.OpQueryExplanation, map[string][]string{"explanation": {"Only open accounts"}})
}

func TestExecuteAllIsIdempotent(t *testing.T) {
	fake := llmtest.New()
	exec := warehousetest.New()
	p := newPipeline(t, fake, exec, 1)

	filled := []CandidateQuery{
		{Query: "SELECT 1", Result: "1", Insight: "one", Explanation: []string{"a"}},
		{Query: "SELECT 2", Result: recovery.TooLargeResult(3)},
	}
	snapshot := []CandidateQuery{filled[0].clone(), filled[1].clone()}

	out, err := p.ExecuteAll(context.Background(), Request{Queries: filled}, nil)
	require.NoError(t, err)

	assert.Empty(t, fake.Calls())
	assert.Zero(t, exec.CallCount())
	assert.Empty(t, out.KeyAssumptions)
	if diff := cmp.Diff(snapshot, out.Queries); diff != "" {
		t.Errorf("queries changed (-want +got):\n%s", diff)
	}
}

func TestExecuteAllFillsRecord(t *testing.T) {
	fake := scriptAnalysis(llmtest.New())
	exec := warehousetest.New().On("SELECT month, SUM(amount) FROM public.revenue GROUP BY month", "month | total\n2024-12 | 10")
	p := newPipeline(t, fake, exec, 1)

	input := []CandidateQuery{{Query: "SELECT month, SUM(amount) FROM public.revenue GROUP BY month"}}
	stream := streaming.NewEventStream("t", 16)

	out, err := p.ExecuteAll(context.Background(), Request{
		Queries:     input,
		Intents:     []string{"Total revenue by month"},
		Dialect:     "SQLite",
		Disclosures: []string{"AUM is total market value of all client investments"},
	}, stream)
	require.NoError(t, err)

	want := CandidateQuery{
		Query:       "SELECT month, SUM(amount) FROM public.revenue GROUP BY month",
		Result:      "month | total\n2024-12 | 10",
		Insight:     "Revenue peaked in December.",
		Explanation: []string{"Only open accounts", "public.revenue, column month: revenue dates between 2024-01-31 and 2024-12-31"},
	}
	if diff := cmp.Diff([]CandidateQuery{want}, out.Queries); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, append(want.Explanation, "AUM is total market value of all client investments"), out.KeyAssumptions)
	assert.Empty(t, input[0].Result, "input must not be modified")

	insightReq, _ := fake.LastCall(llm.OpQueryInsight)
	assert.Equal(t, llm.TierFast, insightReq.Tier)
	assert.NotEmpty(t, stream.Drain())
}

func TestExecuteAllKeepsRepairedQuery(t *testing.T) {
	fake := scriptAnalysis(llmtest.New()).
		OnJSON(llm.OpRepairQuery, map[string]string{"query": "SELECT amount FROM revenue"})
	exec := warehousetest.New().
		OnError("SELECT revenue_amount FROM revenue", errors.New("no such column: revenue_amount")).
		On("SELECT amount FROM revenue", "amount\n10")
	p := newPipeline(t, fake, exec, 1)

	out, err := p.ExecuteAll(context.Background(), Request{Queries: []CandidateQuery{{Query: "SELECT revenue_amount FROM revenue"}}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "SELECT amount FROM revenue", out.Queries[0].Query)
	assert.Equal(t, "amount\n10", out.Queries[0].Result)
	assert.Equal(t, 1, fake.CallCount(llm.OpRepairQuery))
}

func TestExecuteAllPersistsTooLargeSentinel(t *testing.T) {
	big := strings.Repeat("row\n", 500)
	fake := llmtest.New().OnJSON(llm.OpRefineQuery, map[string]string{"query": "SELECT * FROM revenue LIMIT 400"})
	exec := warehousetest.New().
		On("SELECT * FROM revenue", big).
		On("SELECT * FROM revenue LIMIT 400", big)
	p := newPipeline(t, fake, exec, 1)

	out, err := p.ExecuteAll(context.Background(), Request{
		Queries:     []CandidateQuery{{Query: "SELECT * FROM revenue"}},
		Intents:     []string{"All revenue rows"},
		Disclosures: []string{"not disclosed for degraded queries"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Query result too large after 3 refinements.", out.Queries[0].Result)
	assert.Empty(t, out.Queries[0].Insight)
	assert.Equal(t, []string{"Refinement failed."}, out.KeyAssumptions)
	assert.Equal(t, 3, fake.CallCount(llm.OpRefineQuery))
	assert.Zero(t, fake.CallCount(llm.OpQueryInsight))
}

func TestExecuteAllShrinksOversizedResult(t *testing.T) {
	fake := scriptAnalysis(llmtest.New()).
		OnJSON(llm.OpRefineQuery, map[string]string{"query": "SELECT month, SUM(amount) FROM revenue GROUP BY month"})
	exec := warehousetest.New().
		On("SELECT * FROM revenue", strings.Repeat("row\n", 500)).
		On("SELECT month, SUM(amount) FROM revenue GROUP BY month", "2024-12 | 10")
	p := newPipeline(t, fake, exec, 1)

	out, err := p.ExecuteAll(context.Background(), Request{Queries: []CandidateQuery{{Query: "SELECT * FROM revenue"}}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "SELECT month, SUM(amount) FROM revenue GROUP BY month", out.Queries[0].Query)
	assert.Equal(t, "2024-12 | 10", out.Queries[0].Result)
	assert.Equal(t, "Revenue peaked in December.", out.Queries[0].Insight)
}

func TestExecuteAllKeepsExhaustedRepairError(t *testing.T) {
	fake := llmtest.New().OnJSON(llm.OpRepairQuery, map[string]string{"query": "SELECT nope"})
	exec := warehousetest.New().OnError("SELECT nope", errors.New("syntax error near nope"))
	p := newPipeline(t, fake, exec, 1)

	out, err := p.ExecuteAll(context.Background(), Request{
		Queries:     []CandidateQuery{{Query: "SELECT nope"}},
		Disclosures: []string{"x"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Error: syntax error near nope", out.Queries[0].Result)
	assert.Empty(t, out.Queries[0].Insight)
	assert.Empty(t, out.KeyAssumptions)
}

func TestExecuteAllTreatsEmptyResultAsSuccess(t *testing.T) {
	fake := scriptAnalysis(llmtest.New())
	exec := warehousetest.New().On("SELECT * FROM revenue WHERE 1 = 0", warehouse.NoResults)
	p := newPipeline(t, fake, exec, 1)

	out, err := p.ExecuteAll(context.Background(), Request{Queries: []CandidateQuery{{Query: "SELECT * FROM revenue WHERE 1 = 0"}}}, nil)
	require.NoError(t, err)

	assert.Equal(t, warehouse.NoResults, out.Queries[0].Result)
	assert.NotEmpty(t, out.Queries[0].Insight)
	assert.Zero(t, fake.CallCount(llm.OpRepairQuery))
	assert.Zero(t, fake.CallCount(llm.OpRefineQuery))
}

func TestExecuteAllResumesPartialRun(t *testing.T) {
	fake := scriptAnalysis(llmtest.New())
	exec := warehousetest.New().On("SELECT 2", "2")
	p := newPipeline(t, fake, exec, 1)

	out, err := p.ExecuteAll(context.Background(), Request{Queries: []CandidateQuery{
		{Query: "SELECT 1", Result: "1", Insight: "done"},
		{Query: "SELECT 2"},
	}}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"SELECT 2"}, exec.Calls())
	assert.Equal(t, "done", out.Queries[0].Insight)
	assert.Equal(t, "2", out.Queries[1].Result)
}

func TestExecuteAllFailsOnMalformedInsight(t *testing.T) {
	fake := llmtest.New().On(llm.OpQueryInsight, "Revenue went up")
	exec := warehousetest.New().On("SELECT 1", "1")
	p := newPipeline(t, fake, exec, 1)

	_, err := p.ExecuteAll(context.Background(), Request{Queries: []CandidateQuery{{Query: "SELECT 1"}}}, nil)
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
}

func TestExecuteAllParallelMatchesSequential(t *testing.T) {
	queries := []CandidateQuery{{Query: "SELECT 1"}, {Query: "SELECT 2"}, {Query: "SELECT 3"}}
	req := Request{Queries: queries, Disclosures: []string{"note"}}

	run := func(workers int) *Result {
		exec := warehousetest.New().On("SELECT 1", "1").On("SELECT 2", "2").On("SELECT 3", "3")
		out, err := newPipeline(t, scriptAnalysis(llmtest.New()), exec, workers).ExecuteAll(context.Background(), req, nil)
		require.NoError(t, err)
		return out
	}

	sequential := run(1)
	parallel := run(3)
	if diff := cmp.Diff(sequential, parallel); diff != "" {
		t.Errorf("parallel run differs (-sequential +parallel):\n%s", diff)
	}
	assert.Equal(t, "3", parallel.Queries[2].Result)
}
