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

package glossary

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the edit-similarity a word window must exceed to
// count as a misspelling of a glossary phrase.
const DefaultThreshold = 0.85

// SynonymMatch records a surface form found in the question
type SynonymMatch struct {
	Surface    string `json:"surface"`
	Canonical  string `json:"canonical"`
	Definition string `json:"definition"`
}

// RelatedMatch describes the related-term group touched by a question.
// One entry in Matches is a single structured alternative; more than one
// must be offered to the user as a choice.
type RelatedMatch struct {
	SearchedFor string `json:"searched_for"`
	Definition  string `json:"definition"`
	Matches     []Term `json:"matches"`
}

// Resolution is the term resolver's output for one question
type Resolution struct {
	// MatchedTerms holds database-backed key terms relevant to the question
	MatchedTerms []Term         `json:"key_terms"`
	Synonyms     []SynonymMatch `json:"synonyms"`
	Related      *RelatedMatch  `json:"related_terms,omitempty"`
	// Documentation is the human-readable rendering of synonym and related matches
	Documentation string `json:"documentation"`
}

// HasMatchedTerm reports whether name is one of the matched database-backed terms
func (r Resolution) HasMatchedTerm(name string) bool {
	want := Normalize(name)
	for _, t := range r.MatchedTerms {
		if Normalize(t.Name) == want {
			return true
		}
	}
	return false
}

// Resolver matches question text against a glossary
type Resolver struct {
	glossary  *Glossary
	threshold float64
}

// NewResolver creates a resolver. A threshold outside (0,1] falls back to DefaultThreshold.
func NewResolver(g *Glossary, threshold float64) *Resolver {
	if g == nil {
		g = &Glossary{}
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{glossary: g, threshold: threshold}
}

// Glossary returns the glossary the resolver reads from
func (r *Resolver) Glossary() *Glossary {
	return r.glossary
}

// Resolve evaluates direct, synonym and related-term matches independently.
// No match is a normal outcome and yields an empty Resolution.
func (r *Resolver) Resolve(question string) Resolution {
	words := tokenize(question)
	var res Resolution
	seen := map[string]bool{}

	addTerm := func(t Term) {
		key := Normalize(t.Name)
		if !t.ExistsInDatabase || seen[key] {
			return
		}
		seen[key] = true
		res.MatchedTerms = append(res.MatchedTerms, t)
	}

	for _, t := range r.glossary.KeyTerms {
		if r.contains(words, t.Name) {
			addTerm(t)
		}
	}

	var docs []string
	for _, s := range r.glossary.Synonyms {
		if !r.contains(words, s.Surface) {
			continue
		}
		canonical, ok := r.glossary.Lookup(s.Term)
		match := SynonymMatch{Surface: s.Surface, Canonical: s.Term}
		if ok {
			match.Definition = canonical.Definition
			addTerm(canonical)
		}
		res.Synonyms = append(res.Synonyms, match)
		docs = append(docs, fmt.Sprintf("%s is synonym with %s", s.Surface, s.Term))
	}

	for _, group := range r.glossary.RelatedTerms {
		surface := ""
		for _, member := range group {
			if r.contains(words, member) {
				surface = member
				break
			}
		}
		if surface == "" {
			continue
		}

		var (
			others []Term
			names  []string
		)
		for _, member := range group {
			if Normalize(member) == Normalize(surface) {
				continue
			}
			t, ok := r.glossary.Lookup(member)
			if !ok || !t.ExistsInDatabase {
				continue
			}
			others = append(others, t)
			names = append(names, member)
			addTerm(t)
		}
		if len(others) > 0 {
			// Only the first group offers alternatives, so Matches always
			// belong to SearchedFor.
			if res.Related == nil {
				res.Related = r.relatedMatch(surface, others)
			}
			docs = append(docs, fmt.Sprintf("%s is related (similar but different) with: %s", surface, strings.Join(names, ", ")))
		}
	}

	res.Documentation = strings.Join(docs, "\n")
	return res
}

func (r *Resolver) relatedMatch(surface string, alternatives []Term) *RelatedMatch {
	match := &RelatedMatch{SearchedFor: surface}
	if searched, ok := r.glossary.Lookup(surface); ok {
		match.Definition = searched.Definition
	}
	for _, t := range alternatives {
		if !containsTerm(match.Matches, t.Name) {
			match.Matches = append(match.Matches, t)
		}
	}
	return match
}

// contains reports whether phrase occurs in words as a whole-word sequence
// or fuzzily matches a window of the same word length.
func (r *Resolver) contains(words []string, phrase string) bool {
	target := tokenize(phrase)
	n := len(target)
	if n == 0 || n > len(words) {
		return false
	}
	joined := strings.Join(target, " ")
	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		if window == joined || Similarity(window, joined) > r.threshold {
			return true
		}
	}
	return false
}

// Similarity returns 1 - editDistance/maxLength over runes, in [0,1].
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func tokenize(text string) []string {
	normalized := strings.ToLower(strings.ReplaceAll(text, "_", " "))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsTerm(terms []Term, name string) bool {
	for _, t := range terms {
		if Normalize(t.Name) == Normalize(name) {
			return true
		}
	}
	return false
}
