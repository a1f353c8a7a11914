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

package agent

import (
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/answer"
	"github.com/your-org/sql-analytics-agent/internal/catalog"
	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/execution"
	"github.com/your-org/sql-analytics-agent/internal/glossary"
	"github.com/your-org/sql-analytics-agent/internal/intent"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/memory"
	"github.com/your-org/sql-analytics-agent/internal/querygen"
	"github.com/your-org/sql-analytics-agent/internal/recovery"
	"github.com/your-org/sql-analytics-agent/internal/session"
	"github.com/your-org/sql-analytics-agent/internal/tokens"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
)

// Components are the shared, read-only inputs of every turn
type Components struct {
	Client   llm.Client
	Executor warehouse.Executor
	Catalog  *catalog.Catalog
	Glossary *glossary.Glossary
	Sessions *session.Manager
	// Counter measures result size; nil uses the rune estimate
	Counter tokens.Counter
	Dialect string
}

// NewFromConfig assembles an orchestrator from agent settings
func NewFromConfig(cfg config.AgentConfig, c Components, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	repairer := recovery.NewRepairer(c.Client, c.Executor, cfg.MaxRepairs, logger.Named("repair"))
	refiner := recovery.NewRefiner(c.Client, c.Counter, cfg.ResultTokenBudget, cfg.MaxRefinements, logger.Named("refine"))

	baseDoc := ""
	if c.Catalog != nil {
		baseDoc = c.Catalog.Documentation()
	}

	return New(Dependencies{
		Client:    c.Client,
		Resolver:  glossary.NewResolver(c.Glossary, glossary.DefaultThreshold),
		BaseDoc:   baseDoc,
		Dialect:   c.Dialect,
		Extractor: intent.NewExtractor(c.Client, logger.Named("intent")),
		Generator: querygen.NewGenerator(c.Client, logger.Named("querygen")),
		Pipeline:  execution.NewPipeline(c.Client, repairer, refiner, c.Catalog, cfg.ParallelQueries, logger.Named("execution")),
		Composer:  answer.NewComposer(c.Client, cfg.MaxFollowUps, logger.Named("answer")),
		Memory: memory.NewManager(c.Client, memory.Config{
			TokenCeiling:     cfg.HistoryTokenCeiling,
			KeepMessages:     cfg.HistoryKeepMessages,
			SummaryMaxTokens: cfg.SummaryMaxTokens,
		}, logger.Named("memory")),
		Sessions:    c.Sessions,
		TurnTimeout: cfg.TurnTimeout,
		Logger:      logger,
	})
}
