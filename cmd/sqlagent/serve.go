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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/conversation"
	"github.com/your-org/sql-analytics-agent/internal/health"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}
	logger, level, err := initializeLogger(cfg.Logging, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize dependencies", zap.Error(err))
		return err
	}
	defer a.Close()

	// Only the log level is applied live; everything else needs a restart.
	if err := config.WatchConfig(configPath, logger, func(updated *config.Config) {
		level.SetLevel(parseLevel(updated.Logging.Level))
		logger.Info("Configuration reloaded; restart to apply changes other than logging.level",
			zap.String("logging_level", updated.Logging.Level))
	}); err != nil {
		logger.Info("Config file watch disabled", zap.Error(err))
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	healthManager := health.NewManager(serviceName, version, logger.Named("health"))
	healthManager.AddChecker("warehouse", health.PingChecker(cfg.Warehouse.Driver, true, a.executor.Ping))
	healthManager.AddChecker("checkpoints", health.PingChecker(cfg.Checkpoint.StorageType, false, a.sessions.Ping))
	healthManager.AddChecker("warehouse_circuit", breakerChecker(a.guarded.Breaker()))

	api := conversation.NewAPIHandler(
		conversation.NewService(a.sessions, logger.Named("threads")),
		a.agent,
		healthManager,
		logger.Named("http"),
	)
	if !cfg.Metrics.Enabled {
		api.SetMetricsPath("")
	} else {
		api.SetMetricsPath(cfg.Metrics.Path)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr), zap.String("version", version))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// breakerChecker reports an open circuit as degraded; the ping check
// decides whether the warehouse is actually down.
func breakerChecker(cb *resilience.CircuitBreaker) health.Checker {
	return health.CheckerFunc(func(context.Context) health.CheckResult {
		stats := cb.Stats()
		status := health.StatusHealthy
		if cb.State() != resilience.CircuitClosed {
			status = health.StatusDegraded
		}
		return health.CheckResult{
			Status: status,
			Error:  stats.LastFailure,
			Metadata: map[string]any{
				"state":                stats.State,
				"consecutive_failures": stats.Failures,
			},
		}
	})
}
