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

// Package agent runs one user turn through the analytics state machine:
// resolve terms, classify, extract intent, generate and execute queries,
// compose the answer, then compress memory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/answer"
	"github.com/your-org/sql-analytics-agent/internal/catalog"
	"github.com/your-org/sql-analytics-agent/internal/execution"
	"github.com/your-org/sql-analytics-agent/internal/glossary"
	"github.com/your-org/sql-analytics-agent/internal/intent"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/memory"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
	"github.com/your-org/sql-analytics-agent/internal/querygen"
	"github.com/your-org/sql-analytics-agent/internal/session"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

// ErrEmptyQuestion is returned for a blank question
var ErrEmptyQuestion = errors.New("question is empty")

// maxSteps bounds the state machine; a normal turn takes at most eight steps
const maxSteps = 16

// Dependencies are the collaborators of an Orchestrator
type Dependencies struct {
	Client    llm.Client
	Resolver  *glossary.Resolver
	BaseDoc   string
	Dialect   string
	Extractor *intent.Extractor
	Generator *querygen.Generator
	Pipeline  *execution.Pipeline
	Composer  *answer.Composer
	Memory    *memory.Manager
	Sessions  *session.Manager
	// TurnTimeout bounds a whole turn; zero means no limit
	TurnTimeout time.Duration
	Logger      *zap.Logger
}

// Orchestrator runs turns
type Orchestrator struct {
	deps   Dependencies
	logger *zap.Logger
}

// New checks the dependencies and creates an orchestrator
func New(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Client == nil:
		return nil, errors.New("agent: llm client is required")
	case deps.Resolver == nil:
		return nil, errors.New("agent: term resolver is required")
	case deps.Extractor == nil, deps.Generator == nil, deps.Pipeline == nil, deps.Composer == nil, deps.Memory == nil:
		return nil, errors.New("agent: turn components are required")
	case deps.Sessions == nil:
		return nil, errors.New("agent: session manager is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: deps.Logger}, nil
}

// TurnResult is what a caller sees of a finished turn
type TurnResult struct {
	ThreadID       string                     `json:"thread_id"`
	Answer         string                     `json:"answer"`
	Scenario       answer.Scenario            `json:"scenario"`
	FollowUps      []string                   `json:"follow_ups"`
	Alternatives   []string                   `json:"alternatives,omitempty"`
	Queries        []execution.CandidateQuery `json:"queries"`
	KeyAssumptions []string                   `json:"key_assumptions"`
	Trace          []TraceEntry               `json:"trace"`
}

type transition func(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error)

// RunTurn answers one question on a thread. An empty threadID starts a new
// thread. The thread is saved only when the whole turn succeeds; on error
// the stored history is left as it was.
func (o *Orchestrator) RunTurn(ctx context.Context, threadID, question string, sink streaming.Sink) (*TurnResult, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}
	sink = streaming.OrNop(sink)

	if o.deps.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deps.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	state, err := o.run(ctx, threadID, question, sink)
	metrics.TurnDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		scenario := string(state.Scenario)
		if scenario == "" {
			scenario = "none"
		}
		metrics.Turns.WithLabelValues(scenario, metrics.OutcomeError).Inc()
		o.logger.Error("Turn failed",
			zap.String("thread_id", threadID),
			zap.Any("trace", state.Trace),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	metrics.Turns.WithLabelValues(string(state.Scenario), metrics.OutcomeSuccess).Inc()
	o.logger.Info("Turn completed",
		zap.String("thread_id", threadID),
		zap.String("scenario", string(state.Scenario)),
		zap.Int("queries", len(state.Queries)),
		zap.Duration("duration", time.Since(start)))

	result := &TurnResult{
		ThreadID:       state.ThreadID,
		Answer:         state.FinalAnswer,
		Scenario:       state.Scenario,
		FollowUps:      state.Details.FollowUps,
		Queries:        state.Queries,
		KeyAssumptions: answer.Dedupe(state.Details.KeyAssumptions),
		Trace:          state.Trace,
	}
	if state.Scenario == answer.ScenarioAmbiguous {
		result.Alternatives = state.Intents
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, threadID, question string, sink streaming.Sink) (TurnState, error) {
	thread, err := o.deps.Sessions.LoadOrNew(ctx, threadID)
	if err != nil {
		return TurnState{ThreadID: threadID}, err
	}

	state := newTurnState(thread, question)
	state, err = o.Advance(ctx, state, StepResolveTerms, sink)
	if err != nil {
		return state, err
	}

	thread.Messages = state.History
	if err := o.deps.Sessions.Save(ctx, thread); err != nil {
		return state, err
	}
	return state, nil
}

// Advance drives state from step until the end of the turn
func (o *Orchestrator) Advance(ctx context.Context, state TurnState, step Step, sink streaming.Sink) (TurnState, error) {
	sink = streaming.OrNop(sink)
	for i := 0; step != StepEnd; i++ {
		if i == maxSteps {
			return state, fmt.Errorf("turn did not finish within %d steps", maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		t, err := o.transitionFor(step)
		if err != nil {
			return state, err
		}

		next, nextStep, err := t(ctx, state, sink)
		if err != nil {
			return state, fmt.Errorf("%s: %w", step, err)
		}
		o.logger.Debug("Turn step finished",
			zap.String("thread_id", state.ThreadID),
			zap.String("step", string(step)),
			zap.String("next", string(nextStep)))
		state, step = next, nextStep
	}
	return state, nil
}

func (o *Orchestrator) transitionFor(step Step) (transition, error) {
	switch step {
	case StepResolveTerms:
		return o.resolveTerms, nil
	case StepOrchestrate:
		return o.orchestrate, nil
	case StepExtractIntent:
		return o.extractIntent, nil
	case StepGenerateQueries:
		return o.generateQueries, nil
	case StepExecuteQueries:
		return o.executeQueries, nil
	case StepComposeAnswer:
		return o.composeAnswer, nil
	case StepManageMemory:
		return o.manageMemory, nil
	}
	return nil, fmt.Errorf("unknown step %q", step)
}

func (o *Orchestrator) resolveTerms(_ context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	res := o.deps.Resolver.Resolve(s.Question)

	next := s.record(StepResolveTerms, fmt.Sprintf("%d key terms", len(res.MatchedTerms)))
	next.Resolution = res
	next.SchemaDoc = catalog.WithKeyTerms(o.deps.BaseDoc, res)
	next.Substitutions = nil

	if len(res.MatchedTerms) > 0 || len(res.Synonyms) > 0 {
		sink.Emit(streaming.StageResolveTerms, fmt.Sprintf("Found %d business terms", len(res.MatchedTerms)))
	}
	return next, StepOrchestrate, nil
}

// orchestrate classifies the turn on its first pass. On the pass after
// query execution it routes straight to the answer with scenario A.
func (o *Orchestrator) orchestrate(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	if s.Ran(StepOrchestrate) == 0 {
		decision, err := llm.Structured[llm.ScenarioDecision](ctx, o.deps.Client, llm.Request{
			Operation: llm.OpClassifyTurn,
			System:    classifySystemPrompt,
			User:      classifyUserPrompt(s),
			Tier:      llm.TierFast,
		})
		if err != nil {
			return s, "", fmt.Errorf("classify turn: %w", err)
		}

		next := s.record(StepOrchestrate, decision.NextStep)
		switch decision.NextStep {
		case llm.NextStepSmallTalk:
			next.Scenario = answer.ScenarioSmallTalk
			return next, StepComposeAnswer, nil
		case llm.NextStepUnavailable:
			next.Scenario = answer.ScenarioUnavailable
			return next, StepComposeAnswer, nil
		}
		sink.Emit(streaming.StageClassify, "Analyzing the question")
		return next, StepExtractIntent, nil
	}

	if s.Ran(StepExtractIntent) == 1 && s.Ran(StepExecuteQueries) == 1 {
		next := s.record(StepOrchestrate, string(answer.ScenarioAnswerable))
		next.Scenario = answer.ScenarioAnswerable
		return next, StepComposeAnswer, nil
	}
	return s, "", fmt.Errorf("no route after %d orchestration passes", s.Ran(StepOrchestrate))
}

func (o *Orchestrator) extractIntent(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	out, err := o.deps.Extractor.Extract(ctx, intent.Input{
		Question:   s.Question,
		History:    session.Transcript(s.History),
		SchemaDoc:  s.SchemaDoc,
		Resolution: s.Resolution,
	}, sink)
	if err != nil {
		return s, "", err
	}

	if !out.Clear {
		outcome := "ambiguous"
		if out.Preempted {
			outcome = "ambiguous_related_terms"
		}
		next := s.record(StepExtractIntent, outcome)
		next.Scenario = answer.ScenarioAmbiguous
		next.Intents = out.Intents
		next.Details.AmbiguityExplanation = out.AmbiguityExplanation
		next.Details.Alternatives = out.AgentQuestions
		return next, StepComposeAnswer, nil
	}

	next := s.record(StepExtractIntent, "clear")
	next.Intents = out.Intents
	next.Substitutions = out.Substitutions
	return next, StepGenerateQueries, nil
}

func (o *Orchestrator) generateQueries(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	queries, err := o.deps.Generator.Generate(ctx, s.Intents, s.SchemaDoc, o.deps.Dialect, sink)
	if err != nil {
		return s, "", err
	}

	next := s.record(StepGenerateQueries, fmt.Sprintf("%d queries", len(queries)))
	next.Queries = make([]execution.CandidateQuery, len(queries))
	for i, q := range queries {
		next.Queries[i] = execution.CandidateQuery{Query: q}
	}
	return next, StepExecuteQueries, nil
}

func (o *Orchestrator) executeQueries(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	disclosures := intent.SubstitutionAssumptions(s.Substitutions, s.Resolution, o.deps.Resolver.Glossary())

	res, err := o.deps.Pipeline.ExecuteAll(ctx, execution.Request{
		Queries:     s.Queries,
		Intents:     s.Intents,
		SchemaDoc:   s.SchemaDoc,
		Dialect:     o.deps.Dialect,
		Disclosures: disclosures,
	}, sink)
	if err != nil {
		return s, "", err
	}

	next := s.record(StepExecuteQueries, fmt.Sprintf("%d queries", len(res.Queries)))
	next.Queries = res.Queries
	next.Details.KeyAssumptions = append(next.Details.KeyAssumptions, res.KeyAssumptions...)
	return next, StepOrchestrate, nil
}

func (o *Orchestrator) composeAnswer(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	reply, err := o.deps.Composer.Compose(ctx, answer.Input{
		Scenario:             s.Scenario,
		Question:             s.Question,
		History:              session.Transcript(s.History),
		SchemaDoc:            s.SchemaDoc,
		Queries:              s.Queries,
		KeyAssumptions:       s.Details.KeyAssumptions,
		AmbiguityExplanation: s.Details.AmbiguityExplanation,
		Alternatives:         s.Details.Alternatives,
	}, sink)
	if err != nil {
		return s, "", err
	}

	next := s.record(StepComposeAnswer, string(s.Scenario))
	next.FinalAnswer = reply.Answer
	next.Details.FollowUps = reply.FollowUps
	next.History = append(next.History,
		session.NewMessage(session.UserRole, s.Question),
		session.NewMessage(session.AssistantRole, reply.Answer))
	return next, StepManageMemory, nil
}

func (o *Orchestrator) manageMemory(ctx context.Context, s TurnState, sink streaming.Sink) (TurnState, Step, error) {
	compress := o.deps.Memory.ShouldCompress(s.History)
	if compress {
		sink.Emit(streaming.StageMemory, "Summarizing earlier conversation")
	}
	history, err := o.deps.Memory.Compress(ctx, s.History)
	if err != nil {
		return s, "", err
	}

	outcome := "unchanged"
	if compress {
		outcome = "compressed"
	}
	next := s.record(StepManageMemory, outcome)
	next.History = history
	return next, StepEnd, nil
}
