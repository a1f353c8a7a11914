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

package agent

import (
	"github.com/your-org/sql-analytics-agent/internal/answer"
	"github.com/your-org/sql-analytics-agent/internal/execution"
	"github.com/your-org/sql-analytics-agent/internal/glossary"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/session"
)

// Step names a node of the turn state machine
type Step string

const (
	StepResolveTerms    Step = "resolve_terms"
	StepOrchestrate     Step = "orchestrate"
	StepExtractIntent   Step = "extract_intent"
	StepGenerateQueries Step = "generate_queries"
	StepExecuteQueries  Step = "execute_queries"
	StepComposeAnswer   Step = "compose_answer"
	StepManageMemory    Step = "manage_memory"
	StepEnd             Step = "end"
)

// TraceEntry records one step that ran and what it decided
type TraceEntry struct {
	Step    Step   `json:"step"`
	Outcome string `json:"outcome"`
}

// AnswerDetails is the scratch material the composer consumes
type AnswerDetails struct {
	KeyAssumptions       []string `json:"key_assumptions"`
	FollowUps            []string `json:"follow_ups"`
	AmbiguityExplanation string   `json:"ambiguity_explanation"`
	Alternatives         []string `json:"alternatives"`
}

// TurnState is everything one turn knows. Transitions never modify the
// state they receive; they return an updated copy.
type TurnState struct {
	ThreadID string
	// History is the persisted conversation; the only field that outlives the turn
	History  []session.Message
	Question string
	// SchemaDoc is the base documentation plus the key terms of this question
	SchemaDoc  string
	Resolution glossary.Resolution
	// Substitutions stays empty until intent extraction reports a clear intent
	Substitutions []llm.TermSubstitution
	Intents       []string
	Queries       []execution.CandidateQuery
	Scenario      answer.Scenario
	Details       AnswerDetails
	FinalAnswer   string
	Trace         []TraceEntry
}

func newTurnState(thread *session.Thread, question string) TurnState {
	return TurnState{
		ThreadID: thread.ID,
		History:  append([]session.Message(nil), thread.Messages...),
		Question: question,
	}
}

// Ran counts how many times step has run in this turn
func (s TurnState) Ran(step Step) int {
	n := 0
	for _, e := range s.Trace {
		if e.Step == step {
			n++
		}
	}
	return n
}

// clone copies every slice so the copy can be changed freely
func (s TurnState) clone() TurnState {
	c := s
	c.History = append([]session.Message(nil), s.History...)
	c.Substitutions = append([]llm.TermSubstitution(nil), s.Substitutions...)
	c.Intents = append([]string(nil), s.Intents...)
	c.Queries = make([]execution.CandidateQuery, len(s.Queries))
	for i, q := range s.Queries {
		q.Explanation = append([]string(nil), q.Explanation...)
		c.Queries[i] = q
	}
	c.Details = AnswerDetails{
		KeyAssumptions:       append([]string(nil), s.Details.KeyAssumptions...),
		FollowUps:            append([]string(nil), s.Details.FollowUps...),
		AmbiguityExplanation: s.Details.AmbiguityExplanation,
		Alternatives:         append([]string(nil), s.Details.Alternatives...),
	}
	c.Trace = append([]TraceEntry(nil), s.Trace...)
	return c
}

// record returns a copy of s with step appended to the trace
func (s TurnState) record(step Step, outcome string) TurnState {
	c := s.clone()
	c.Trace = append(c.Trace, TraceEntry{Step: step, Outcome: outcome})
	return c
}
