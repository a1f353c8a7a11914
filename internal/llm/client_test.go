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

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/sql-analytics-agent/internal/config"
)

func TestNewSelectsProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)

	c, err := New(config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "sk-test", Model: "gpt-4o"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = New(config.LLMConfig{Provider: config.ProviderAnthropic, AnthropicAPIKey: "key", Model: "claude"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = New(config.LLMConfig{Provider: "bard"}, logger)
	assert.Error(t, err)

	_, err = New(config.LLMConfig{Provider: config.ProviderOpenAI}, logger)
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	cfg := config.LLMConfig{Model: "big", FastModel: "small"}
	assert.Equal(t, "big", modelFor(cfg, TierDefault))
	assert.Equal(t, "small", modelFor(cfg, TierFast))
	assert.Equal(t, "big", modelFor(config.LLMConfig{Model: "big"}, TierFast))
}

func openAIServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
}

const openAIReply = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"Revenue grew 4%."},"finish_reason":"stop"}],
"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`

func TestOpenAIClientComplete(t *testing.T) {
	var seen map[string]any
	server := openAIServer(t, func(w http.ResponseWriter, body map[string]any) {
		seen = body
		_, _ = w.Write([]byte(openAIReply))
	})
	defer server.Close()

	client, err := NewOpenAIClient(config.LLMConfig{
		APIKey:    "sk-test",
		Endpoint:  server.URL + "/v1",
		Model:     "gpt-4o",
		FastModel: "gpt-4o-mini",
		MaxTokens: 300,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		Operation: OpQueryInsight,
		System:    "Summarise.",
		User:      "rows",
		Tier:      TierFast,
		JSON:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Revenue grew 4%.", resp.Content)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 5}, resp.Usage)
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	assert.EqualValues(t, 300, seen["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
}

func TestOpenAIClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := openAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(openAIReply))
	})
	defer server.Close()

	client, err := NewOpenAIClient(config.LLMConfig{
		APIKey: "sk-test", Endpoint: server.URL + "/v1", Model: "gpt-4o", MaxRetries: 1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{Operation: OpComposeAnswer})
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 4%.", resp.Content)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAIClientDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	server := openAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})
	defer server.Close()

	client, err := NewOpenAIClient(config.LLMConfig{
		APIKey: "sk-test", Endpoint: server.URL + "/v1", Model: "gpt-4o", MaxRetries: 3,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Operation: OpComposeAnswer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnthropicClientComplete(t *testing.T) {
	var seen map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ant-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&seen))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-fast",
"content":[{"type":"text","text":"{\"next_step\": \"B\"}"}],
"stop_reason":"end_turn","usage":{"input_tokens":20,"output_tokens":7}}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(config.LLMConfig{
		AnthropicAPIKey: "ant-key",
		Endpoint:        server.URL,
		Model:           "claude-main",
		FastModel:       "claude-fast",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	decision, err := Structured[ScenarioDecision](context.Background(), client, Request{
		Operation: OpClassifyTurn,
		System:    "Classify.",
		User:      "thanks!",
		Tier:      TierFast,
	})
	require.NoError(t, err)
	assert.Equal(t, NextStepSmallTalk, decision.NextStep)
	assert.Equal(t, "claude-fast", seen["model"])
}
