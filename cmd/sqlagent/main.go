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

// Command sqlagent answers analytics questions in plain language by
// generating and running SQL against a warehouse.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/sql-analytics-agent/internal/agent"
	"github.com/your-org/sql-analytics-agent/internal/catalog"
	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/glossary"
	"github.com/your-org/sql-analytics-agent/internal/llm"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
	"github.com/your-org/sql-analytics-agent/internal/session"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
)

var version = "dev"

const (
	serviceName          = "sql-analytics-agent"
	threadCleanupEvery   = 10 * time.Minute
	catalogRefreshBudget = 2 * time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "sqlagent",
		Short:         "Ask questions about your warehouse in plain language",
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default ./configs/config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newAskCmd(&configPath),
		newCheckGlossaryCmd(&configPath),
		newSchemaDocCmd(&configPath),
	)
	return root
}

// loadConfig reads the configuration. Commands that never call the model
// skip validation so they work without API keys.
func loadConfig(path string, validate bool) (*config.Config, error) {
	return config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       path,
		ValidateRequired: validate,
	})
}

// initializeLogger creates a logger from the logging settings. When
// forceStderr is set, logs never go to stdout.
func initializeLogger(cfg config.LoggingConfig, forceStderr bool) (*zap.Logger, zap.AtomicLevel, error) {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zapConfig.Level = level

	switch {
	case cfg.Output == "file":
		zapConfig.OutputPaths = []string{"sqlagent.log"}
		zapConfig.ErrorOutputPaths = []string{"sqlagent.log"}
	case forceStderr:
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, level, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// loadVocabulary returns the configured catalog and glossary, or the
// built-in samples when no path is set.
func loadVocabulary(cfg config.CatalogConfig) (*catalog.Catalog, *glossary.Glossary, error) {
	cat := catalog.Default()
	if cfg.SchemaPath != "" {
		loaded, err := catalog.Load(cfg.SchemaPath)
		if err != nil {
			return nil, nil, err
		}
		cat = loaded
	}

	gloss := glossary.Default()
	if cfg.GlossaryPath != "" {
		loaded, err := glossary.Load(cfg.GlossaryPath)
		if err != nil {
			return nil, nil, err
		}
		gloss = loaded
	}
	return cat, gloss, nil
}

// app holds the long-lived dependencies shared by serve and ask
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	executor *warehouse.SQLExecutor
	guarded  *warehouse.GuardedExecutor
	sessions *session.Manager
	agent    *agent.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded",
		zap.String("llm_provider", masked.LLM.Provider),
		zap.String("model", masked.LLM.Model),
		zap.String("fast_model", masked.LLM.FastModel),
		zap.String("warehouse_driver", masked.Warehouse.Driver),
		zap.String("warehouse_dsn", masked.Warehouse.DSN),
		zap.String("checkpoint_storage", masked.Checkpoint.StorageType))

	client, err := llm.New(cfg.LLM, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	executor, err := warehouse.NewSQLExecutor(cfg.Warehouse, logger.Named("warehouse"))
	if err != nil {
		return nil, err
	}

	cat, gloss, err := loadVocabulary(cfg.Catalog)
	if err != nil {
		_ = executor.Close()
		return nil, err
	}
	for _, term := range gloss.CheckConsistency() {
		logger.Warn("Glossary references an undeclared key term", zap.String("term", term))
	}
	if cfg.Catalog.RefreshOnStart {
		refreshCtx, cancel := context.WithTimeout(ctx, catalogRefreshBudget)
		err := cat.Refresh(refreshCtx, executor, logger.Named("catalog"))
		cancel()
		if err != nil {
			_ = executor.Close()
			return nil, fmt.Errorf("failed to refresh schema catalog: %w", err)
		}
	}

	storage, err := session.NewStorage(cfg.Checkpoint)
	if err != nil {
		_ = executor.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint storage: %w", err)
	}
	sessions := session.NewManager(storage, threadCleanupEvery, logger.Named("session"))

	guarded := warehouse.NewGuardedExecutor(executor, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "warehouse",
		MaxFailures: cfg.Warehouse.BreakerFailures,
		Cooldown:    cfg.Warehouse.BreakerCooldown,
		IsFailure:   warehouse.IsConnectivityFailure,
	}, logger.Named("breaker")))

	orchestrator, err := agent.NewFromConfig(cfg.Agent, agent.Components{
		Client:   client,
		Executor: guarded,
		Catalog:  cat,
		Glossary: gloss,
		Sessions: sessions,
		Dialect:  executor.Dialect(),
	}, logger.Named("agent"))
	if err != nil {
		_ = sessions.Close()
		_ = executor.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		guarded:  guarded,
		sessions: sessions,
		agent:    orchestrator,
	}, nil
}

func (a *app) Close() {
	if err := a.sessions.Close(); err != nil {
		a.logger.Warn("Failed to close checkpoint storage", zap.Error(err))
	}
	if err := a.executor.Close(); err != nil {
		a.logger.Warn("Failed to close warehouse connection", zap.Error(err))
	}
}
