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

// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/your-org/sql-analytics-agent/internal/llm"
)

// Reply is one scripted completion: content or an error
type Reply struct {
	Content string
	Err     error
}

// Fake replays scripted replies per operation. Once a script runs out the
// last reply repeats; an operation with no script fails the call.
type Fake struct {
	mu      sync.Mutex
	scripts map[llm.Operation][]Reply
	served  map[llm.Operation]int
	calls   []llm.Request
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		scripts: map[llm.Operation][]Reply{},
		served:  map[llm.Operation]int{},
	}
}

// On appends text replies for op and returns the fake for chaining
func (f *Fake) On(op llm.Operation, contents ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range contents {
		f.scripts[op] = append(f.scripts[op], Reply{Content: c})
	}
	return f
}

// OnJSON appends replies encoded as JSON
func (f *Fake) OnJSON(op llm.Operation, values ...any) *Fake {
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("llmtest: cannot encode scripted reply: %v", err))
		}
		f.On(op, string(data))
	}
	return f
}

// OnError appends a failing reply for op
func (f *Fake) OnError(op llm.Operation, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[op] = append(f.scripts[op], Reply{Err: err})
	return f
}

// Complete implements llm.Client
func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	script := f.scripts[req.Operation]
	if len(script) == 0 {
		return nil, fmt.Errorf("llmtest: no reply scripted for %s", req.Operation)
	}

	i := f.served[req.Operation]
	if i >= len(script) {
		i = len(script) - 1
	}
	f.served[req.Operation]++

	reply := script[i]
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.Response{
		Content: reply.Content,
		Model:   "fake",
		Usage:   llm.Usage{PromptTokens: len(req.User) / 4, CompletionTokens: len(reply.Content) / 4},
	}, nil
}

// Calls returns every request received so far
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many requests named op were received
func (f *Fake) CallCount(op llm.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Operation == op {
			n++
		}
	}
	return n
}

// LastCall returns the most recent request named op
func (f *Fake) LastCall(op llm.Operation) (llm.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Operation == op {
			return f.calls[i], true
		}
	}
	return llm.Request{}, false
}
