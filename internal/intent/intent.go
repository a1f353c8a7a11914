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

// Package intent turns a question into analytical intents, or decides the
// question is ambiguous and says why.
package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/glossary"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

// Input is what the extractor sees of a turn
type Input struct {
	Question string
	// History is the rendered conversation so far
	History    string
	SchemaDoc  string
	Resolution glossary.Resolution
}

// Outcome is either a clear set of intents or an ambiguity with alternatives.
// For an ambiguous question Intents holds the alternatives.
type Outcome struct {
	Clear         bool
	Intents       []string
	Substitutions []llm.TermSubstitution
	// Preempted is set when related terms decided the ambiguity without the model
	Preempted            bool
	AmbiguityExplanation string
	AgentQuestions       []string
}

// Extractor runs the clarity decision and the follow-on extraction
type Extractor struct {
	client llm.Client
	logger *zap.Logger
}

// NewExtractor creates an extractor
func NewExtractor(client llm.Client, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, logger: logger}
}

// Extract decides whether the question is clear. A related-term match whose
// searched-for term is not in the database and that offers several
// alternatives skips the model entirely. Malformed model output is an error;
// there is no default intent.
func (e *Extractor) Extract(ctx context.Context, in Input, sink streaming.Sink) (*Outcome, error) {
	sink = streaming.OrNop(sink)

	if out, ok := Preempt(in.Resolution); ok {
		e.logger.Info("Related terms make the question ambiguous",
			zap.String("searched_for", in.Resolution.Related.SearchedFor),
			zap.Int("alternatives", len(out.Intents)))
		sink.Emit(streaming.StageIntentExtraction, "Several related terms match the question")
		return out, nil
	}

	mappings := in.Resolution.Documentation
	if mappings == "" {
		mappings = "None"
	}

	verdict, err := llm.Structured[llm.ClearOrAmbiguous](ctx, e.client, llm.Request{
		Operation: llm.OpIntentClarity,
		System:    claritySystemPrompt,
		User:      clarityUserPrompt(in, mappings),
	})
	if err != nil {
		return nil, fmt.Errorf("intent clarity: %w", err)
	}

	if verdict.Clearness == llm.IntentAmbiguous {
		analysis, err := llm.Structured[llm.AmbiguityAnalysis](ctx, e.client, llm.Request{
			Operation: llm.OpIntentAmbiguity,
			System:    ambiguitySystemPrompt,
			User:      ambiguityUserPrompt(in),
		})
		if err != nil {
			return nil, fmt.Errorf("ambiguity analysis: %w", err)
		}
		sink.Emit(streaming.StageIntentExtraction, "The question can be read in more than one way")
		return &Outcome{
			Intents:              analysis.AgentQuestions,
			AmbiguityExplanation: analysis.Explanation,
			AgentQuestions:       analysis.AgentQuestions,
		}, nil
	}

	extracted, err := llm.Structured[llm.AnalyticalIntents](ctx, e.client, llm.Request{
		Operation: llm.OpIntentExtract,
		System:    extractSystemPrompt,
		User:      extractUserPrompt(in, mappings),
	})
	if err != nil {
		return nil, fmt.Errorf("intent extraction: %w", err)
	}

	sink.Emit(streaming.StageIntentExtraction, fmt.Sprintf("Analytical intents extracted: %d", len(extracted.Intents)))
	e.logger.Debug("Extracted analytical intents",
		zap.Strings("intents", extracted.Intents),
		zap.Int("substitutions", len(extracted.Substitutions)))

	return &Outcome{
		Clear:         true,
		Intents:       extracted.Intents,
		Substitutions: extracted.Substitutions,
	}, nil
}

// Preempt returns the ambiguous outcome forced by a related-term match, if
// the searched-for term is not a database-backed term and more than one
// alternative exists.
func Preempt(res glossary.Resolution) (*Outcome, bool) {
	rel := res.Related
	if rel == nil || len(rel.Matches) <= 1 || res.HasMatchedTerm(rel.SearchedFor) {
		return nil, false
	}

	explanation := fmt.Sprintf("The term %s can mean multiple things.", rel.SearchedFor)
	if rel.Definition != "" {
		explanation = fmt.Sprintf("The term %s is not available in the tables I have access to, but related terms are available.", rel.SearchedFor)
	}

	names := make([]string, 0, len(rel.Matches))
	options := make([]string, 0, len(rel.Matches))
	for _, t := range rel.Matches {
		names = append(names, t.Name)
		if t.Definition != "" {
			options = append(options, fmt.Sprintf("- %s: %s.", t.Name, t.Definition))
		} else {
			options = append(options, fmt.Sprintf("- %s.", t.Name))
		}
	}

	return &Outcome{
		Preempted:            true,
		Intents:              names,
		AmbiguityExplanation: explanation,
		AgentQuestions:       []string{"Which option are you interested in? " + strings.Join(options, " ")},
	}, true
}

// SubstitutionAssumptions renders the substitutions the model reported as
// key assumptions. Every synonym is disclosed with both the surface form and
// the canonical term.
func SubstitutionAssumptions(subs []llm.TermSubstitution, res glossary.Resolution, g *glossary.Glossary) []string {
	var out []string
	for _, s := range subs {
		replacementDef := definitionOf(s.ReplacementTerm, res, g)

		switch s.Relationship {
		case llm.RelationshipSynonym:
			note := fmt.Sprintf("%s is interpreted as %s", s.SearchedFor, s.ReplacementTerm)
			if replacementDef != "" {
				note += ": " + replacementDef
			}
			out = append(out, note)

		case llm.RelationshipRelatedTerm:
			returned := "I returned the data for " + s.ReplacementTerm
			if replacementDef != "" {
				returned += fmt.Sprintf(" (%s)", replacementDef)
			}

			searchedDef := ""
			if res.Related != nil && glossary.Normalize(res.Related.SearchedFor) == glossary.Normalize(s.SearchedFor) {
				searchedDef = res.Related.Definition
			}
			if searchedDef != "" {
				out = append(out, fmt.Sprintf("%s (%s) does not exist in the tables I have access to. %s", s.SearchedFor, searchedDef, returned))
			} else {
				out = append(out, returned)
			}
		}
	}
	return out
}

func definitionOf(name string, res glossary.Resolution, g *glossary.Glossary) string {
	want := glossary.Normalize(name)
	for _, t := range res.MatchedTerms {
		if glossary.Normalize(t.Name) == want {
			return t.Definition
		}
	}
	if g != nil {
		if t, ok := g.Lookup(name); ok {
			return t.Definition
		}
	}
	return ""
}
