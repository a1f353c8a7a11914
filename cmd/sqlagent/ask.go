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
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/agent"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

func newAskCmd(configPath *string) *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the thread id to continue it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, true)
			if err != nil {
				return err
			}
			logger, _, err := initializeLogger(cfg.Logging, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			progress := streaming.NewEventStream("cli", 1)
			defer progress.Close()
			progress.AddCallback(func(event streaming.Event) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "... %s\n", event.Message)
			})

			question := strings.Join(args, " ")
			result, err := a.agent.RunTurn(cmd.Context(), threadID, question, progress)
			if err != nil {
				logger.Error("Question failed", zap.Error(err))
				return fmt.Errorf("could not answer the question: %w", err)
			}

			printResult(cmd.OutOrStdout(), result)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", result.ThreadID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Continue an existing thread")
	return cmd
}

func printResult(w io.Writer, result *agent.TurnResult) {
	_, _ = fmt.Fprintln(w, result.Answer)
	if len(result.Alternatives) > 0 {
		_, _ = fmt.Fprintln(w, "\nOptions:")
		for _, alt := range result.Alternatives {
			_, _ = fmt.Fprintf(w, "  - %s\n", alt)
		}
	}
	if len(result.FollowUps) > 0 {
		_, _ = fmt.Fprintln(w, "\nYou could also ask:")
		for _, q := range result.FollowUps {
			_, _ = fmt.Fprintf(w, "  - %s\n", q)
		}
	}
}
