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

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreExported(t *testing.T) {
	before := testutil.ToFloat64(LLMCalls.WithLabelValues("compose_answer", OutcomeSuccess))
	LLMCalls.WithLabelValues("compose_answer", OutcomeSuccess).Inc()
	if got := testutil.ToFloat64(LLMCalls.WithLabelValues("compose_answer", OutcomeSuccess)); got != before+1 {
		t.Errorf("Expected counter to increase by one, got %v -> %v", before, got)
	}

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "sql_agent_llm_calls_total") {
		t.Error("Expected sql_agent_llm_calls_total in the scrape output")
	}
}
