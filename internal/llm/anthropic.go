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
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
)

// AnthropicClient talks to the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
	cfg    config.LLMConfig
	logger *zap.Logger
}

// NewAnthropicClient creates a client from the llm config block. Retries
// are handled here, so the SDK's own retry loop is disabled.
func NewAnthropicClient(cfg config.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" && !strings.Contains(cfg.Endpoint, "api.openai.com") {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	logger.Info("Anthropic client initialized",
		zap.String("model", cfg.Model),
		zap.String("fast_model", cfg.FastModel))

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Complete implements Client. The JSON flag has no provider switch here;
// the prompts already demand a bare JSON object.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := modelFor(c.cfg, req.Tier)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokensFor(c.cfg, req)),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}

	start := time.Now()
	var result *Response

	err := resilience.WithExponentialBackoff(ctx, c.logger, retryPolicy(c.cfg), func(ctx context.Context) error {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return c.handleAPIError(err)
		}

		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return fmt.Errorf("no text content in response")
		}

		result = &Response{
			Content: text.String(),
			Model:   string(msg.Model),
			Usage: Usage{
				PromptTokens:     int(msg.Usage.InputTokens),
				CompletionTokens: int(msg.Usage.OutputTokens),
			},
		}
		return nil
	})
	recordCall(req.Operation, result, err)
	if err != nil {
		c.logger.Error("Anthropic completion failed",
			zap.String("operation", string(req.Operation)),
			zap.String("model", model),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", req.Operation, err)
	}

	c.logger.Debug("Anthropic completion successful",
		zap.String("operation", string(req.Operation)),
		zap.String("model", model),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)))

	return result, nil
}

func (c *AnthropicClient) handleAPIError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic client error: %w", err)
	}

	if apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key or unauthorized access: %w", err)
	}
	if !isRetryableStatus(apiErr.StatusCode) {
		return fmt.Errorf("anthropic API error (status %d): %w", apiErr.StatusCode, err)
	}

	retryable := &RetryableError{StatusCode: apiErr.StatusCode, Message: err.Error()}
	if apiErr.Response != nil {
		if secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			retryable.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return retryable
}
