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

// Package metrics declares the Prometheus series exported by the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sql_agent_turns_total", Help: "Completed turns by scenario and outcome.",
	}, []string{"scenario", "outcome"})
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sql_agent_turn_duration_seconds",
		Help:    "Wall time of a turn.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sql_agent_llm_calls_total", Help: "LLM completions by operation and outcome.",
	}, []string{"operation", "outcome"})
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sql_agent_llm_tokens_total", Help: "LLM tokens consumed by operation and kind (prompt or completion).",
	}, []string{"operation", "kind"})

	QueryRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sql_agent_query_repairs_total", Help: "Syntax repair rewrites requested.",
	})
	QueryRefinements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sql_agent_query_refinements_total", Help: "Size refinement rewrites requested.",
	})
	QueriesTooLarge = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sql_agent_queries_too_large_total", Help: "Queries persisted with the too-large sentinel.",
	})
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sql_agent_query_duration_seconds",
		Help:    "Warehouse query execution latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	HistoryCompressions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sql_agent_history_compressions_total", Help: "Conversation histories replaced by a summary.",
	})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sql_agent_circuit_open", Help: "1 while the named dependency's circuit breaker is open.",
	}, []string{"name"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
