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

// Package memory keeps conversation history within a token budget by
// folding older messages into one summary.
package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
	"github.com/your-org/sql-analytics-agent/internal/session"
)

// Defaults used when a Config field is zero
const (
	DefaultTokenCeiling     = 1000
	DefaultKeepMessages     = 4
	DefaultSummaryMaxTokens = 400
)

// Config bounds the history
type Config struct {
	// TokenCeiling is the tracked history cost that triggers compression
	TokenCeiling int
	// KeepMessages is how many recent messages survive verbatim
	KeepMessages int
	// SummaryMaxTokens caps the summary length
	SummaryMaxTokens int
}

func (c Config) withDefaults() Config {
	if c.TokenCeiling <= 0 {
		c.TokenCeiling = DefaultTokenCeiling
	}
	if c.KeepMessages <= 0 {
		c.KeepMessages = DefaultKeepMessages
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	return c
}

// Manager compresses histories
type Manager struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger
}

// NewManager creates a memory manager
func NewManager(client llm.Client, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// ShouldCompress reports whether the history has reached the token ceiling
// and holds more messages than are kept verbatim.
func (m *Manager) ShouldCompress(history []session.Message) bool {
	return session.CountTokensInMessages(history) >= m.cfg.TokenCeiling && len(history) > m.cfg.KeepMessages
}

// Compress returns history unchanged when it is within budget. Otherwise
// everything but the last KeepMessages messages is replaced by a single
// summary message generated with the fast model. The input is not modified.
func (m *Manager) Compress(ctx context.Context, history []session.Message) ([]session.Message, error) {
	if !m.ShouldCompress(history) {
		return history, nil
	}

	cut := len(history) - m.cfg.KeepMessages
	older, recent := history[:cut], history[cut:]

	contents := make([]string, 0, len(older))
	for _, msg := range older {
		contents = append(contents, msg.Content)
	}

	resp, err := m.client.Complete(ctx, llm.Request{
		Operation: llm.OpSummarizeHistory,
		User:      summaryPrompt(m.cfg.SummaryMaxTokens, contents),
		Tier:      llm.TierFast,
		MaxTokens: m.cfg.SummaryMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}

	out := make([]session.Message, 0, len(recent)+1)
	out = append(out, session.NewMessage(session.SummaryRole, strings.TrimSpace(resp.Content)))
	out = append(out, recent...)

	metrics.HistoryCompressions.Inc()
	m.logger.Info("Compressed conversation history",
		zap.Int("summarized_messages", len(older)),
		zap.Int("tokens_before", session.CountTokensInMessages(history)),
		zap.Int("tokens_after", session.CountTokensInMessages(out)))
	return out, nil
}

func summaryPrompt(maxTokens int, contents []string) string {
	return fmt.Sprintf("Distill the below chat messages into a single summary paragraph. "+
		"The summary paragraph should have maximum %d tokens. "+
		"Include as many specific details as you can.\nChat messages:\n%s", maxTokens, strings.Join(contents, "\n"))
}
