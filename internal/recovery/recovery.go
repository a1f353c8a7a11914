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

// Package recovery holds the two bounded rewrite loops applied to a
// generated query: syntax repair until the warehouse accepts it, and size
// refinement until its result fits the token budget. Each loop is a small
// state machine that always ends in Succeeded or ExhaustedRetries.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
	"github.com/your-org/sql-analytics-agent/internal/tokens"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
)

// DefaultMaxAttempts is the rewrite ceiling of both loops
const DefaultMaxAttempts = 3

// ErrorMarker flags a failed execution in a result string
const ErrorMarker = "Error"

var (
	// ErrStillFailing is the cause of a repair loop that ran out of attempts
	ErrStillFailing = errors.New("query still failing after repairs")
	// ErrStillTooLarge is the cause of a refinement loop that ran out of attempts
	ErrStillTooLarge = errors.New("query result still too large after refinements")
)

// State is the position of a loop
type State int

const (
	Attempting State = iota
	Succeeded
	ExhaustedRetries
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case ExhaustedRetries:
		return "exhausted_retries"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is where a loop stopped. Query is the last query executed and
// Result its rendered output; Attempts counts rewrites requested.
type Outcome struct {
	State    State
	Query    string
	Result   string
	Attempts int
	// Cause is ErrStillFailing or ErrStillTooLarge when State is ExhaustedRetries
	Cause error
}

// IsErrorResult reports whether a result string signals a failed execution
func IsErrorResult(result string) bool {
	return strings.Contains(result, ErrorMarker)
}

// Repairer drives a query to a result the warehouse accepts
type Repairer struct {
	client      llm.Client
	exec        warehouse.Executor
	maxAttempts int
	logger      *zap.Logger
}

// NewRepairer creates a repair loop. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewRepairer(client llm.Client, exec warehouse.Executor, maxAttempts int, logger *zap.Logger) *Repairer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repairer{client: client, exec: exec, maxAttempts: maxAttempts, logger: logger}
}

// RepairInput is the query to run and the context needed to fix it
type RepairInput struct {
	Query     string
	SchemaDoc string
	Dialect   string
}

// Run executes the query, asking for a corrected replacement after each
// failure. The returned error is fatal for the turn: an unreachable
// warehouse, a cancelled context, or a failed or malformed LLM call.
func (r *Repairer) Run(ctx context.Context, in RepairInput, sink streaming.Sink) (Outcome, error) {
	sink = streaming.OrNop(sink)

	out := Outcome{State: Attempting, Query: in.Query}
	result, err := r.Execute(ctx, in.Query, in.Dialect)
	if err != nil {
		return out, err
	}
	out.Result = result

	for out.State == Attempting {
		switch {
		case !IsErrorResult(out.Result):
			out.State = Succeeded
		case out.Attempts == r.maxAttempts:
			out.State = ExhaustedRetries
			out.Cause = ErrStillFailing
		default:
			out.Attempts++
			metrics.QueryRepairs.Inc()
			sink.Emit(streaming.StageQueryRepair, fmt.Sprintf("Fixing query error (attempt %d of %d)", out.Attempts, r.maxAttempts))
			r.logger.Debug("Repairing query",
				zap.Int("attempt", out.Attempts),
				zap.String("error", out.Result))

			fixed, err := llm.Structured[llm.SingleQuery](ctx, r.client, llm.Request{
				Operation: llm.OpRepairQuery,
				System:    repairSystemPrompt(in.Dialect),
				User:      repairUserPrompt(out.Query, out.Result, in.SchemaDoc),
			})
			if err != nil {
				return out, fmt.Errorf("query repair: %w", err)
			}

			out.Query = warehouse.CleanSQL(fixed.Query)
			if out.Result, err = r.Execute(ctx, out.Query, in.Dialect); err != nil {
				return out, err
			}
		}
	}

	if out.State == ExhaustedRetries {
		r.logger.Warn("Query still failing after repairs",
			zap.Int("attempts", out.Attempts),
			zap.String("error", out.Result))
	}
	return out, nil
}

// Execute runs one query. Rejections become an "Error: ..." result; only
// an unreachable warehouse or a done context is returned as an error.
func (r *Repairer) Execute(ctx context.Context, query, dialect string) (string, error) {
	result, err := r.exec.Execute(ctx, query, dialect)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if errors.Is(err, warehouse.ErrUnavailable) {
		return "", err
	}
	return "Error: " + err.Error(), nil
}

// Refiner rewrites a query until its result fits the token budget
type Refiner struct {
	client      llm.Client
	counter     tokens.Counter
	budget      int
	maxAttempts int
	logger      *zap.Logger
}

// NewRefiner creates a refinement loop. A nil counter uses the rune estimate.
func NewRefiner(client llm.Client, counter tokens.Counter, budget, maxAttempts int, logger *zap.Logger) *Refiner {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{client: client, counter: counter, budget: budget, maxAttempts: maxAttempts, logger: logger}
}

// MaxAttempts returns the rewrite ceiling
func (f *Refiner) MaxAttempts() int {
	return f.maxAttempts
}

// Fits reports whether a result is within the token budget
func (f *Refiner) Fits(result string) bool {
	return !tokens.ExceedsBudget(f.counter, result, f.budget)
}

// RefineInput is an accepted query whose result may be too large
type RefineInput struct {
	Intent    string
	Query     string
	Result    string
	SchemaDoc string
	Dialect   string
}

// RunFunc executes a rewritten query through syntax repair
type RunFunc func(ctx context.Context, query string) (Outcome, error)

// Run asks for complete replacement queries until the result fits or the
// attempts run out. A rewrite that cannot be repaired ends the loop with
// the repair outcome's error result and ErrStillFailing.
func (f *Refiner) Run(ctx context.Context, in RefineInput, run RunFunc, sink streaming.Sink) (Outcome, error) {
	sink = streaming.OrNop(sink)
	out := Outcome{State: Attempting, Query: in.Query, Result: in.Result}

	for out.State == Attempting {
		switch {
		case f.Fits(out.Result):
			out.State = Succeeded
		case out.Attempts == f.maxAttempts:
			out.State = ExhaustedRetries
			out.Cause = ErrStillTooLarge
		default:
			out.Attempts++
			metrics.QueryRefinements.Inc()
			sink.Emit(streaming.StageQueryRefinement, fmt.Sprintf("Refining query %d", out.Attempts))
			f.logger.Debug("Refining oversized query",
				zap.Int("attempt", out.Attempts),
				zap.Int("result_tokens", f.counter.Count(out.Result)),
				zap.Int("budget", f.budget))

			rewritten, err := llm.Structured[llm.SingleQuery](ctx, f.client, llm.Request{
				Operation: llm.OpRefineQuery,
				System:    refineSystemPrompt(in.Dialect),
				User:      refineUserPrompt(in.Intent, out.Query, in.SchemaDoc),
			})
			if err != nil {
				return out, fmt.Errorf("query refinement: %w", err)
			}

			repaired, err := run(ctx, warehouse.CleanSQL(rewritten.Query))
			if err != nil {
				return out, err
			}
			out.Query = repaired.Query
			out.Result = repaired.Result
			if repaired.State == ExhaustedRetries {
				out.State = ExhaustedRetries
				out.Cause = ErrStillFailing
			}
		}
	}

	return out, nil
}

// TooLargeResult is the persisted result of a query that never fit
func TooLargeResult(attempts int) string {
	return fmt.Sprintf("Query result too large after %d refinements.", attempts)
}

// RefinementFailedNote is the disclosed assumption paired with TooLargeResult
const RefinementFailedNote = "Refinement failed."
