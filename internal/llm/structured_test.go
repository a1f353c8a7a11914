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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"bare", `{"query": "SELECT 1"}`, `{"query": "SELECT 1"}`},
		{"json fence", "Here you go:\n```json\n{\"a\": 1}\n```\nthanks", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 2}\n```", `{"a": 2}`},
		{"prose around", `Sure. {"a": {"b": "}"}} trailing`, `{"a": {"b": "}"}}`},
		{"escaped quote", `{"a": "say \"hi\" {"}`, `{"a": "say \"hi\" {"}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a": 1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.response))
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("valid intents", func(t *testing.T) {
		got, err := Parse[AnalyticalIntents](`{"analytical_intent": ["Total revenue by month"], "term_substitutions": [{"relationship": "synonym", "searched_for": "aum", "replacement_term": "assets under management"}]}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"Total revenue by month"}, got.Intents)
		assert.Equal(t, "aum", got.Substitutions[0].SearchedFor)
	})

	malformed := []struct {
		name    string
		content string
		parse   func(string) error
	}{
		{"no json", "I think it is clear.", parseAs[ClearOrAmbiguous]},
		{"unknown verdict", `{"analytical_intent_clearness": "Maybe"}`, parseAs[ClearOrAmbiguous]},
		{"unknown field", `{"analytical_intent_clearness": "Analytical Intent Extracted", "confidence": 0.9}`, parseAs[ClearOrAmbiguous]},
		{"empty intents", `{"analytical_intent": [], "term_substitutions": []}`, parseAs[AnalyticalIntents]},
		{"bad relationship", `{"analytical_intent": ["x"], "term_substitutions": [{"relationship": "guess", "searched_for": "a", "replacement_term": "b"}]}`, parseAs[AnalyticalIntents]},
		{"too many alternatives", `{"ambiguity_explanation": "x", "agent_questions": ["a", "b", "c", "d"]}`, parseAs[AmbiguityAnalysis]},
		{"no explanation", `{"ambiguity_explanation": " ", "agent_questions": ["a"]}`, parseAs[AmbiguityAnalysis]},
		{"unknown next step", `{"next_step": "A"}`, parseAs[ScenarioDecision]},
		{"blank query", `{"query": ["SELECT 1", " "]}`, parseAs[QueryList]},
		{"wrong type", `{"query": "SELECT 1"}`, parseAs[QueryList]},
		{"empty single query", `{"query": ""}`, parseAs[SingleQuery]},
		{"too many bullets", `{"explanation": ["1","2","3","4","5","6"]}`, parseAs[QueryExplanation]},
	}

	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse(tt.content)
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}

func parseAs[T Shape](content string) error {
	_, err := Parse[T](content)
	return err
}

func TestSchemaFor(t *testing.T) {
	schema, err := SchemaFor[AnalyticalIntents]()
	require.NoError(t, err)
	assert.Contains(t, schema, "analytical_intent")
	assert.Contains(t, schema, "replacement_term")

	again, err := SchemaFor[AnalyticalIntents]()
	require.NoError(t, err)
	assert.Equal(t, schema, again)
}

type recordingClient struct {
	reply string
	err   error
	got   Request
}

func (r *recordingClient) Complete(_ context.Context, req Request) (*Response, error) {
	r.got = req
	if r.err != nil {
		return nil, r.err
	}
	return &Response{Content: r.reply}, nil
}

func TestStructured(t *testing.T) {
	client := &recordingClient{reply: "```json\n{\"next_step\": \"Continue\"}\n```"}

	got, err := Structured[ScenarioDecision](context.Background(), client, Request{
		Operation: OpClassifyTurn,
		System:    "Classify the turn.",
		User:      "thank you!",
	})
	require.NoError(t, err)
	assert.Equal(t, NextStepContinue, got.NextStep)
	assert.True(t, client.got.JSON)
	assert.True(t, strings.HasPrefix(client.got.System, "Classify the turn."))
	assert.Contains(t, client.got.System, "next_step")

	client.reply = "Continue"
	_, err = Structured[ScenarioDecision](context.Background(), client, Request{Operation: OpClassifyTurn})
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Contains(t, err.Error(), string(OpClassifyTurn))

	boom := errors.New("connection refused")
	client.err = boom
	_, err = Structured[ScenarioDecision](context.Background(), client, Request{Operation: OpClassifyTurn})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMalformedOutput)
}
