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

// Package execution runs the candidate queries of a turn to completion:
// syntax repair, size refinement, then an insight and explanation for
// every result that made it through.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/catalog"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
	"github.com/your-org/sql-analytics-agent/internal/recovery"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

// CandidateQuery is one generated query and what became of it. An empty
// Result means the query has not run yet.
type CandidateQuery struct {
	Query       string   `json:"query"`
	Result      string   `json:"result"`
	Insight     string   `json:"insight"`
	Explanation []string `json:"explanation"`
}

// Pending reports whether the query still has to run
func (c CandidateQuery) Pending() bool {
	return c.Result == ""
}

func (c CandidateQuery) clone() CandidateQuery {
	c.Explanation = append([]string(nil), c.Explanation...)
	return c
}

// Request is the work handed to ExecuteAll
type Request struct {
	Queries []CandidateQuery
	// Intents[i] is the analytical intent behind Queries[i]
	Intents   []string
	SchemaDoc string
	Dialect   string
	// Disclosures are substitution notes added after every successful query
	Disclosures []string
}

// Result holds the filled copies of the candidate queries and the
// assumptions they disclosed, in candidate order.
type Result struct {
	Queries        []CandidateQuery
	KeyAssumptions []string
}

// Pipeline executes candidate queries
type Pipeline struct {
	client   llm.Client
	repairer *recovery.Repairer
	refiner  *recovery.Refiner
	catalog  *catalog.Catalog
	workers  int
	logger   *zap.Logger
}

// NewPipeline creates a pipeline. workers > 1 runs pending queries on a
// worker pool; the result is identical to the sequential run. cat may be
// nil, in which case no date ranges are disclosed.
func NewPipeline(client llm.Client, repairer *recovery.Repairer, refiner *recovery.Refiner, cat *catalog.Catalog, workers int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		client:   client,
		repairer: repairer,
		refiner:  refiner,
		catalog:  cat,
		workers:  workers,
		logger:   logger,
	}
}

type processed struct {
	index       int
	query       CandidateQuery
	assumptions []string
}

// ExecuteAll runs every pending candidate query. Already filled entries
// are left alone, so calling it again after a partial run only finishes
// the remainder. The input slice is never modified.
func (p *Pipeline) ExecuteAll(ctx context.Context, req Request, sink streaming.Sink) (*Result, error) {
	sink = streaming.OrNop(sink)

	out := &Result{Queries: make([]CandidateQuery, len(req.Queries))}
	var pending []int
	for i, q := range req.Queries {
		out.Queries[i] = q.clone()
		if q.Pending() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	sink.Emit(streaming.StageQueryExecution, fmt.Sprintf("Running %d queries", len(pending)))

	var (
		done []processed
		err  error
	)
	if p.workers > 1 && len(pending) > 1 {
		done, err = p.runPooled(ctx, req, pending, sink)
	} else {
		done, err = p.runSequential(ctx, req, pending, sink)
	}
	if err != nil {
		return nil, err
	}

	for _, d := range done {
		out.Queries[d.index] = d.query
		out.KeyAssumptions = append(out.KeyAssumptions, d.assumptions...)
	}
	return out, nil
}

func (p *Pipeline) runSequential(ctx context.Context, req Request, pending []int, sink streaming.Sink) ([]processed, error) {
	done := make([]processed, 0, len(pending))
	for _, i := range pending {
		d, err := p.process(ctx, req, i, sink)
		if err != nil {
			return nil, err
		}
		done = append(done, d)
	}
	return done, nil
}

func (p *Pipeline) runPooled(ctx context.Context, req Request, pending []int, sink streaming.Sink) ([]processed, error) {
	workers := p.workers
	if workers > len(pending) {
		workers = len(pending)
	}
	pool := pond.NewResultPool[processed](workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, i := range pending {
		group.SubmitErr(func() (processed, error) {
			return p.process(ctx, req, i, sink)
		})
	}

	// Wait returns results in submission order.
	return group.Wait()
}

// process drives one query to a terminal record
func (p *Pipeline) process(ctx context.Context, req Request, i int, sink streaming.Sink) (processed, error) {
	d := processed{index: i, query: req.Queries[i].clone()}
	intent := ""
	if i < len(req.Intents) {
		intent = req.Intents[i]
	}

	repaired, err := p.repairer.Run(ctx, recovery.RepairInput{
		Query:     req.Queries[i].Query,
		SchemaDoc: req.SchemaDoc,
		Dialect:   req.Dialect,
	}, sink)
	if err != nil {
		return d, fmt.Errorf("query %d: %w", i+1, err)
	}

	final, refinements := repaired, 0
	if repaired.State == recovery.Succeeded && !p.refiner.Fits(repaired.Result) {
		final, err = p.refiner.Run(ctx, recovery.RefineInput{
			Intent:    intent,
			Query:     repaired.Query,
			Result:    repaired.Result,
			SchemaDoc: req.SchemaDoc,
			Dialect:   req.Dialect,
		}, func(ctx context.Context, query string) (recovery.Outcome, error) {
			return p.repairer.Run(ctx, recovery.RepairInput{Query: query, SchemaDoc: req.SchemaDoc, Dialect: req.Dialect}, sink)
		}, sink)
		if err != nil {
			return d, fmt.Errorf("query %d: %w", i+1, err)
		}
		refinements = final.Attempts
	}

	d.query.Query = final.Query

	if final.State == recovery.ExhaustedRetries {
		if errors.Is(final.Cause, recovery.ErrStillTooLarge) {
			metrics.QueriesTooLarge.Inc()
			d.query.Result = recovery.TooLargeResult(final.Attempts)
			d.assumptions = []string{recovery.RefinementFailedNote}
		} else {
			d.query.Result = final.Result
		}
		p.logger.Warn("Query degraded",
			zap.Int("index", i),
			zap.String("state", final.State.String()),
			zap.Error(final.Cause))
		return d, nil
	}

	d.query.Result = final.Result

	insight, err := llm.Structured[llm.QueryInsight](ctx, p.client, llm.Request{
		Operation: llm.OpQueryInsight,
		System:    insightSystemPrompt,
		User:      insightUserPrompt(final.Query, final.Result),
		Tier:      llm.TierFast,
	})
	if err != nil {
		return d, fmt.Errorf("query %d insight: %w", i+1, err)
	}
	d.query.Insight = insight.Insight

	explanation, err := llm.Structured[llm.QueryExplanation](ctx, p.client, llm.Request{
		Operation: llm.OpQueryExplanation,
		System:    explanationSystemPrompt,
		User:      explanationUserPrompt(final.Query),
		Tier:      llm.TierFast,
	})
	if err != nil {
		return d, fmt.Errorf("query %d explanation: %w", i+1, err)
	}

	bullets := append([]string(nil), explanation.Explanation...)
	if p.catalog != nil {
		bullets = append(bullets, p.catalog.DateRangesFor(final.Query)...)
	}
	d.query.Explanation = bullets
	d.assumptions = append(append([]string(nil), bullets...), req.Disclosures...)

	p.logger.Debug("Query completed",
		zap.Int("index", i),
		zap.Int("repairs", repaired.Attempts),
		zap.Int("refinements", refinements))
	return d, nil
}
