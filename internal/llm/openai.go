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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
)

// OpenAIClient talks to the OpenAI chat completions API, or to an Azure
// OpenAI or compatible endpoint when one is configured.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.LLMConfig
	logger *zap.Logger
}

// NewOpenAIClient creates a client from the llm config block
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.Contains(cfg.Endpoint, ".openai.azure.com") {
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	} else if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	logger.Info("OpenAI client initialized",
		zap.String("model", cfg.Model),
		zap.String("fast_model", cfg.FastModel),
		zap.Int("max_retries", cfg.MaxRetries))

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Complete implements Client
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := modelFor(c.cfg, req.Tier)
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokensFor(c.cfg, req),
		Temperature: float32(c.cfg.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	var result *Response

	err := resilience.WithExponentialBackoff(ctx, c.logger, retryPolicy(c.cfg), func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return c.handleAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned from OpenAI")
		}
		result = &Response{
			Content: resp.Choices[0].Message.Content,
			Model:   resp.Model,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			},
		}
		return nil
	})
	recordCall(req.Operation, result, err)
	if err != nil {
		c.logger.Error("Chat completion failed",
			zap.String("operation", string(req.Operation)),
			zap.String("model", model),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", req.Operation, err)
	}

	c.logger.Debug("Chat completion successful",
		zap.String("operation", string(req.Operation)),
		zap.String("model", model),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)))

	return result, nil
}

// handleAPIError sorts provider errors into retryable and fatal ones
func (c *OpenAIClient) handleAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("invalid API key or unauthorized access: %w", err)
		}
		if isRetryableStatus(apiErr.HTTPStatusCode) {
			return &RetryableError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		return fmt.Errorf("OpenAI API error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isRetryableStatus(reqErr.HTTPStatusCode) {
		return &RetryableError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}

	return fmt.Errorf("OpenAI client error: %w", err)
}
