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

package tokens

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{strings.Repeat("x", 2000), 500},
		{"héllo wörld", 2},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestExceedsBudgetBoundary(t *testing.T) {
	counter := CounterFunc(func(text string) int { return len(text) })

	tests := []struct {
		name   string
		length int
		budget int
		want   bool
	}{
		{"below", 9, 10, false},
		{"equal", 10, 10, false},
		{"above", 11, 10, true},
		{"zero budget empty", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExceedsBudget(counter, strings.Repeat("a", tt.length), tt.budget)
			if got != tt.want {
				t.Errorf("ExceedsBudget(len=%d, %d) = %v, want %v", tt.length, tt.budget, got, tt.want)
			}
		})
	}
}

func TestExceedsBudgetDefaultsToEstimate(t *testing.T) {
	if ExceedsBudget(nil, strings.Repeat("x", 2000), 500) {
		t.Error("2000 runes is exactly 500 tokens and must fit")
	}
	if !ExceedsBudget(nil, strings.Repeat("x", 2004), 500) {
		t.Error("2004 runes is 501 tokens and must exceed")
	}
}
