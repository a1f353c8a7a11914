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

// Package warehousetest provides a scripted warehouse.Executor for tests.
package warehousetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type outcome struct {
	result string
	err    error
}

// Fake returns scripted results keyed by the exact query text. Queries
// with no script fail with a "no such table" error.
type Fake struct {
	mu      sync.Mutex
	scripts map[string]outcome
	calls   []string
}

// New creates an empty fake
func New() *Fake {
	return &Fake{scripts: map[string]outcome{}}
}

// On scripts the rendered result for query
func (f *Fake) On(query, result string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[strings.TrimSpace(query)] = outcome{result: result}
	return f
}

// OnError scripts a failure for query
func (f *Fake) OnError(query string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[strings.TrimSpace(query)] = outcome{err: err}
	return f
}

// Execute implements warehouse.Executor
func (f *Fake) Execute(ctx context.Context, query, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	query = strings.TrimSpace(query)
	f.calls = append(f.calls, query)
	out, ok := f.scripts[query]
	if !ok {
		return "", fmt.Errorf("no such table in query: %s", query)
	}
	return out.result, out.err
}

// Calls returns every executed query in order
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many queries ran
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
