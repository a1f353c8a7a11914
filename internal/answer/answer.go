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

// Package answer writes the reply that closes a turn. The scenario picks
// the template; scenario A also discloses its key assumptions.
package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/execution"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

// Scenario is the top-level classification of a turn
type Scenario string

const (
	// ScenarioAnswerable is answered with data
	ScenarioAnswerable Scenario = "A"
	// ScenarioSmallTalk covers pleasantries and questions already answered
	ScenarioSmallTalk Scenario = "B"
	// ScenarioUnavailable is a request for data the warehouse does not hold
	ScenarioUnavailable Scenario = "C"
	// ScenarioAmbiguous asks the user to pick an interpretation
	ScenarioAmbiguous Scenario = "D"
)

// Valid reports whether s is one of the four scenarios
func (s Scenario) Valid() bool {
	switch s {
	case ScenarioAnswerable, ScenarioSmallTalk, ScenarioUnavailable, ScenarioAmbiguous:
		return true
	}
	return false
}

// DefaultMaxFollowUps caps the suggested next steps
const DefaultMaxFollowUps = 2

// Input is the material a scenario template draws on
type Input struct {
	Scenario  Scenario
	Question  string
	History   string
	SchemaDoc string
	// Queries and KeyAssumptions are used by scenario A
	Queries        []execution.CandidateQuery
	KeyAssumptions []string
	// AmbiguityExplanation and Alternatives are used by scenario D
	AmbiguityExplanation string
	Alternatives         []string
}

// Reply is the composed answer and the follow-ups it suggested
type Reply struct {
	Answer    string
	FollowUps []string
}

// Composer writes replies
type Composer struct {
	client       llm.Client
	maxFollowUps int
	logger       *zap.Logger
}

// NewComposer creates a composer. maxFollowUps <= 0 uses DefaultMaxFollowUps.
func NewComposer(client llm.Client, maxFollowUps int, logger *zap.Logger) *Composer {
	if maxFollowUps <= 0 {
		maxFollowUps = DefaultMaxFollowUps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{client: client, maxFollowUps: maxFollowUps, logger: logger}
}

// Compose selects the template for in.Scenario and asks the model for the
// reply. Follow-ups are only suggested for scenarios A, B and C.
func (c *Composer) Compose(ctx context.Context, in Input, sink streaming.Sink) (*Reply, error) {
	if !in.Scenario.Valid() {
		return nil, fmt.Errorf("unknown scenario %q", in.Scenario)
	}
	sink = streaming.OrNop(sink)

	reply := &Reply{}
	if in.Scenario != ScenarioAmbiguous {
		followUps, err := c.followUps(ctx, in)
		if err != nil {
			return nil, err
		}
		reply.FollowUps = followUps
	}

	sink.Emit(streaming.StageAnswer, "Writing the answer")
	resp, err := c.client.Complete(ctx, llm.Request{
		Operation: llm.OpComposeAnswer,
		System:    scenarioPrompt(in, reply.FollowUps),
		User:      in.Question,
	})
	if err != nil {
		return nil, fmt.Errorf("compose answer: %w", err)
	}

	reply.Answer = strings.TrimSpace(resp.Content)
	if in.Scenario == ScenarioAnswerable {
		reply.Answer += FormatKeyAssumptions(in.KeyAssumptions)
	}

	c.logger.Debug("Composed answer",
		zap.String("scenario", string(in.Scenario)),
		zap.Int("follow_ups", len(reply.FollowUps)),
		zap.Int("key_assumptions", len(in.KeyAssumptions)))
	return reply, nil
}

func (c *Composer) followUps(ctx context.Context, in Input) ([]string, error) {
	out, err := llm.Structured[llm.FollowUps](ctx, c.client, llm.Request{
		Operation: llm.OpFollowUps,
		System:    followUpSystemPrompt(c.maxFollowUps),
		User:      followUpUserPrompt(in),
	})
	if err != nil {
		return nil, fmt.Errorf("follow-up suggestions: %w", err)
	}

	questions := out.AgentQuestions
	if len(questions) > c.maxFollowUps {
		questions = questions[:c.maxFollowUps]
	}
	return questions, nil
}

// FormatInsights renders every query as an insight block followed by its raw result
func FormatInsights(queries []execution.CandidateQuery) string {
	blocks := make([]string, 0, len(queries))
	for i, q := range queries {
		blocks = append(blocks, fmt.Sprintf("Insight %d:\n%s\n\nRaw Result of insight %d:\n%s", i+1, q.Insight, i+1, q.Result))
	}
	return strings.Join(blocks, "\n\n")
}

// FormatKeyAssumptions renders the de-duplicated assumptions as a bullet
// section, or "" when there are none.
func FormatKeyAssumptions(assumptions []string) string {
	unique := Dedupe(assumptions)
	if len(unique) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n**Key Assumptions:**")
	for _, a := range unique {
		b.WriteString("\n• ")
		b.WriteString(a)
	}
	return b.String()
}

// Dedupe drops repeated strings, keeping first occurrences in order
func Dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
