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

// Package glossary holds the business vocabulary the agent maps user
// questions onto: canonical key terms, synonyms, and groups of related
// terms that must never be substituted silently.
package glossary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Term is a canonical business concept
type Term struct {
	Name              string `yaml:"name" json:"name"`
	Definition        string `yaml:"definition" json:"definition,omitempty"`
	QueryInstructions string `yaml:"query_instructions" json:"query_instructions,omitempty"`
	ExistsInDatabase  bool   `yaml:"exists_in_database" json:"exists_in_database"`
}

// Synonym maps a surface form onto a key term name
type Synonym struct {
	Surface string
	Term    string
}

// Synonyms keeps the order in which synonyms were declared
type Synonyms []Synonym

// UnmarshalYAML decodes a mapping of surface form to term name in document order.
func (s *Synonyms) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("synonyms: expected a mapping, got line %d", node.Line)
	}
	out := make(Synonyms, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var surface, term string
		if err := node.Content[i].Decode(&surface); err != nil {
			return fmt.Errorf("synonyms: %w", err)
		}
		if err := node.Content[i+1].Decode(&term); err != nil {
			return fmt.Errorf("synonyms: %w", err)
		}
		out = append(out, Synonym{Surface: surface, Term: term})
	}
	*s = out
	return nil
}

// Glossary is the process-wide business vocabulary. It is read-only after loading.
type Glossary struct {
	KeyTerms     []Term     `yaml:"key_terms"`
	Synonyms     Synonyms   `yaml:"synonyms"`
	RelatedTerms [][]string `yaml:"related_terms"`
}

// Load reads a glossary YAML file
func Load(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary: %w", err)
	}

	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse glossary %s: %w", path, err)
	}
	for i, t := range g.KeyTerms {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("glossary %s: key term %d has no name", path, i)
		}
	}

	return &g, nil
}

// Normalize lowercases a term name and turns underscores into spaces.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(name, "_", " ")))
}

// Lookup finds a key term by normalized name
func (g *Glossary) Lookup(name string) (Term, bool) {
	want := Normalize(name)
	for _, t := range g.KeyTerms {
		if Normalize(t.Name) == want {
			return t, true
		}
	}
	return Term{}, false
}

// CheckConsistency returns every synonym target and related-group member
// that is not declared as a key term, sorted and de-duplicated.
func (g *Glossary) CheckConsistency() []string {
	known := make(map[string]bool, len(g.KeyTerms))
	for _, t := range g.KeyTerms {
		known[Normalize(t.Name)] = true
	}

	missing := map[string]bool{}
	for _, s := range g.Synonyms {
		if !known[Normalize(s.Term)] {
			missing[s.Term] = true
		}
	}
	for _, group := range g.RelatedTerms {
		for _, term := range group {
			if !known[Normalize(term)] {
				missing[term] = true
			}
		}
	}

	out := make([]string, 0, len(missing))
	for term := range missing {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

// Default returns the built-in wealth-management sample glossary.
func Default() *Glossary {
	return &Glossary{
		KeyTerms: []Term{
			{
				Name:              "Assets Under Management",
				Definition:        "Total market value of all client investments",
				QueryInstructions: "Use account_assets from fact_account_monthly table. Filter to_date = '9999-12-31' to get current records. Aggregate at advisor, household, or business line level as needed.",
				ExistsInDatabase:  true,
			},
			{
				Name:              "Household",
				QueryInstructions: "to get recent records, filter for household.household_status = 'Active' and household.to_date = '9999-12-31'",
				ExistsInDatabase:  true,
			},
			{
				Name:              "Advisor",
				QueryInstructions: "to get recent records, filter for advisors.advisor_status = 'Active' and advisors.to_date = '9999-12-31'",
				ExistsInDatabase:  true,
			},
			{
				Name:              "Account",
				QueryInstructions: "to get recent records, filter for account.account_status = 'Active' and account.to_date = '9999-12-31'",
				ExistsInDatabase:  true,
			},
			{
				Name:              "payout",
				Definition:        "Dollar amount paid to advisor.",
				QueryInstructions: "open accounts and to_date = 9999-12-31 to get most recent records only.",
			},
			{
				Name:             "net revenue",
				Definition:       "Revenue retained by Capital Partners.",
				ExistsInDatabase: true,
			},
			{
				Name:       "compensation",
				Definition: "placeholder.",
			},
			{
				Name:              "high net worth",
				Definition:        "If household_assets >= $1M.",
				QueryInstructions: "query fact_household_monthly for high_net_worth_flag = True",
			},
		},
		Synonyms: Synonyms{
			{Surface: "aum", Term: "assets under management"},
			{Surface: "total assets", Term: "assets under management"},
			{Surface: "client", Term: "household"},
			{Surface: "hnw", Term: "high net worth"},
			{Surface: "production", Term: "payout"},
		},
		RelatedTerms: [][]string{
			{"compensation", "net revenue", "payout"},
		},
	}
}
