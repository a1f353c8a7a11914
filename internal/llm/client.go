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

// Package llm is the boundary to the completion service. Every call names
// the operation it serves, and structured replies are parsed into typed
// result shapes or rejected with ErrMalformedOutput.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
)

// ErrMalformedOutput marks a structured reply that does not match its shape
var ErrMalformedOutput = errors.New("malformed structured output")

// Operation names the step a completion serves; it labels logs, metrics
// and scripted test replies.
type Operation string

const (
	OpClassifyTurn     Operation = "classify_turn"
	OpIntentClarity    Operation = "intent_clarity"
	OpIntentExtract    Operation = "intent_extract"
	OpIntentAmbiguity  Operation = "intent_ambiguity"
	OpGenerateQueries  Operation = "generate_queries"
	OpRepairQuery      Operation = "repair_query"
	OpRefineQuery      Operation = "refine_query"
	OpQueryInsight     Operation = "query_insight"
	OpQueryExplanation Operation = "query_explanation"
	OpFollowUps        Operation = "follow_ups"
	OpComposeAnswer    Operation = "compose_answer"
	OpSummarizeHistory Operation = "summarize_history"
)

// Tier selects between the main model and the cheaper fast model
type Tier int

const (
	TierDefault Tier = iota
	TierFast
)

// Request is one completion call
type Request struct {
	Operation Operation
	System    string
	User      string
	Tier      Tier
	// MaxTokens caps the reply; zero uses the client default
	MaxTokens int
	// JSON asks the provider for a bare JSON object when it supports it
	JSON bool
}

// Usage reports the tokens a call consumed
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is the text reply plus its token usage
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Client is a completion service
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New builds the client for the configured provider
func New(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(cfg, logger)
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func modelFor(cfg config.LLMConfig, tier Tier) string {
	if tier == TierFast && cfg.FastModel != "" {
		return cfg.FastModel
	}
	return cfg.Model
}

func maxTokensFor(cfg config.LLMConfig, req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 2000
}

// RetryableError is a provider failure worth retrying: rate limits and
// server-side errors.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// RetryDelay implements resilience.RetryAfterError
func (e *RetryableError) RetryDelay() time.Duration {
	return e.RetryAfter
}

func retryPolicy(cfg config.LLMConfig) resilience.BackoffConfig {
	policy := resilience.DefaultBackoffConfig()
	if cfg.MaxRetries >= 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	policy.RetryOnFunc = func(err error) bool {
		var retryable *RetryableError
		return errors.As(err, &retryable)
	}
	return policy
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func recordCall(op Operation, resp *Response, err error) {
	if err != nil {
		metrics.LLMCalls.WithLabelValues(string(op), metrics.OutcomeError).Inc()
		return
	}
	metrics.LLMCalls.WithLabelValues(string(op), metrics.OutcomeSuccess).Inc()
	metrics.LLMTokens.WithLabelValues(string(op), "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(string(op), "completion").Add(float64(resp.Usage.CompletionTokens))
}
