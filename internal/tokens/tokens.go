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

// Package tokens approximates LLM token counts and checks result budgets.
package tokens

import "unicode/utf8"

// runesPerToken is the usual English-text ratio for GPT-style tokenizers.
const runesPerToken = 4

// Counter returns an approximate token count for a string.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// EstimateCounter counts one token per four runes.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(text string) int {
	return Estimate(text)
}

// Estimate returns the rune-based token estimate for text.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / runesPerToken
}

// ExceedsBudget reports whether text costs strictly more than maxTokens.
// A count equal to the budget fits.
func ExceedsBudget(counter Counter, text string, maxTokens int) bool {
	if counter == nil {
		counter = EstimateCounter{}
	}
	return counter.Count(text) > maxTokens
}
