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

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Shape is a structured result that can check its own invariants
type Shape interface {
	Validate() error
}

// Intent clarity verdicts
const (
	IntentExtracted = "Analytical Intent Extracted"
	IntentAmbiguous = "Analytical Intent Ambiguous"
)

// ClearOrAmbiguous is the verdict of the intent clarity step
type ClearOrAmbiguous struct {
	Clearness string `json:"analytical_intent_clearness" jsonschema:"either 'Analytical Intent Extracted' or 'Analytical Intent Ambiguous'"`
}

// Validate implements Shape
func (c ClearOrAmbiguous) Validate() error {
	if c.Clearness != IntentExtracted && c.Clearness != IntentAmbiguous {
		return fmt.Errorf("unknown analytical_intent_clearness %q", c.Clearness)
	}
	return nil
}

// Substitution relationships
const (
	RelationshipSynonym     = "synonym"
	RelationshipRelatedTerm = "related_term"
)

// TermSubstitution is a glossary substitution the model actually used
type TermSubstitution struct {
	Relationship    string `json:"relationship" jsonschema:"'synonym' or 'related_term'"`
	SearchedFor     string `json:"searched_for" jsonschema:"the term the user wrote"`
	ReplacementTerm string `json:"replacement_term" jsonschema:"the glossary term used instead"`
}

// AnalyticalIntents is the output of a clear intent extraction
type AnalyticalIntents struct {
	Intents       []string           `json:"analytical_intent" jsonschema:"one sentence per analytical intent"`
	Substitutions []TermSubstitution `json:"term_substitutions" jsonschema:"substitutions taken from the provided term mappings"`
}

// Validate implements Shape
func (a AnalyticalIntents) Validate() error {
	if len(a.Intents) == 0 {
		return errors.New("analytical_intent is empty")
	}
	for i, intent := range a.Intents {
		if strings.TrimSpace(intent) == "" {
			return fmt.Errorf("analytical_intent[%d] is blank", i)
		}
	}
	for i, s := range a.Substitutions {
		if s.Relationship != RelationshipSynonym && s.Relationship != RelationshipRelatedTerm {
			return fmt.Errorf("term_substitutions[%d]: unknown relationship %q", i, s.Relationship)
		}
		if s.SearchedFor == "" || s.ReplacementTerm == "" {
			return fmt.Errorf("term_substitutions[%d]: searched_for and replacement_term are required", i)
		}
	}
	return nil
}

// MaxAlternatives caps the interpretations offered for an ambiguous question
const MaxAlternatives = 3

// AmbiguityAnalysis explains why a question is ambiguous and offers alternatives
type AmbiguityAnalysis struct {
	Explanation    string   `json:"ambiguity_explanation" jsonschema:"brief explanation of the ambiguity"`
	AgentQuestions []string `json:"agent_questions" jsonschema:"at most 3 alternative precise questions"`
}

// Validate implements Shape
func (a AmbiguityAnalysis) Validate() error {
	if strings.TrimSpace(a.Explanation) == "" {
		return errors.New("ambiguity_explanation is empty")
	}
	if len(a.AgentQuestions) == 0 || len(a.AgentQuestions) > MaxAlternatives {
		return fmt.Errorf("agent_questions must hold 1 to %d entries, got %d", MaxAlternatives, len(a.AgentQuestions))
	}
	return nil
}

// Turn classification verdicts
const (
	NextStepSmallTalk   = "B"
	NextStepUnavailable = "C"
	NextStepContinue    = "Continue"
)

// ScenarioDecision is the first-pass classification of a turn
type ScenarioDecision struct {
	NextStep string `json:"next_step" jsonschema:"'B', 'C' or 'Continue'"`
}

// Validate implements Shape
func (s ScenarioDecision) Validate() error {
	switch s.NextStep {
	case NextStepSmallTalk, NextStepUnavailable, NextStepContinue:
		return nil
	}
	return fmt.Errorf("unknown next_step %q", s.NextStep)
}

// QueryList holds one SQL query per analytical intent
type QueryList struct {
	Queries []string `json:"query" jsonschema:"one raw SQL query per analytical intent, in order"`
}

// Validate implements Shape
func (q QueryList) Validate() error {
	if len(q.Queries) == 0 {
		return errors.New("query list is empty")
	}
	for i, query := range q.Queries {
		if strings.TrimSpace(query) == "" {
			return fmt.Errorf("query[%d] is blank", i)
		}
	}
	return nil
}

// SingleQuery is a complete replacement query
type SingleQuery struct {
	Query string `json:"query" jsonschema:"the complete rewritten SQL query"`
}

// Validate implements Shape
func (q SingleQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return errors.New("query is empty")
	}
	return nil
}

// QueryInsight is the plain-language summary of one result
type QueryInsight struct {
	Insight string `json:"insight"`
}

// Validate implements Shape
func (q QueryInsight) Validate() error {
	if strings.TrimSpace(q.Insight) == "" {
		return errors.New("insight is empty")
	}
	return nil
}

// QueryExplanation lists the filters and limits behind one result
type QueryExplanation struct {
	Explanation []string `json:"explanation" jsonschema:"up to 3 short bullets"`
}

// Validate implements Shape
func (q QueryExplanation) Validate() error {
	if len(q.Explanation) > 5 {
		return fmt.Errorf("explanation has %d bullets, at most 5 allowed", len(q.Explanation))
	}
	return nil
}

// FollowUps are suggested next questions
type FollowUps struct {
	AgentQuestions []string `json:"agent_questions" jsonschema:"at most 2 follow-up questions"`
}

// Validate implements Shape. Extra suggestions are truncated by the caller.
func (FollowUps) Validate() error {
	return nil
}

var schemaCache sync.Map

// SchemaFor returns the JSON schema of a result shape
func SchemaFor[T Shape]() (string, error) {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(string), nil
	}

	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return "", fmt.Errorf("failed to derive schema for %s: %w", key, err)
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to encode schema for %s: %w", key, err)
	}

	schemaCache.Store(key, string(data))
	return string(data), nil
}

// Structured sends req with the schema of T appended to the system prompt
// and parses the reply. A reply that does not fit T is ErrMalformedOutput.
func Structured[T Shape](ctx context.Context, client Client, req Request) (T, error) {
	var zero T

	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, err
	}
	req.JSON = true
	req.System = strings.TrimSpace(req.System) +
		"\n\nRespond with one JSON object and nothing else. It must conform to this JSON schema:\n" + schema

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return zero, err
	}

	out, err := Parse[T](resp.Content)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", req.Operation, err)
	}
	return out, nil
}

// Parse decodes and validates a structured reply
func Parse[T Shape](content string) (T, error) {
	var out T

	raw := extractJSON(content)
	if raw == "" {
		return out, fmt.Errorf("%w: no JSON object in reply", ErrMalformedOutput)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return out, nil
}

// extractJSON finds the JSON object in a reply: a fenced block first,
// then the first balanced object in the text.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

func extractJSONObject(s string, start int) string {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
