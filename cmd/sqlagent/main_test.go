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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/sql-analytics-agent/internal/agent"
	"github.com/your-org/sql-analytics-agent/internal/answer"
	"github.com/your-org/sql-analytics-agent/internal/catalog"
	"github.com/your-org/sql-analytics-agent/internal/health"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCheckGlossary(t *testing.T) {
	dir := t.TempDir()
	glossaryPath := writeFile(t, dir, "glossary.yaml", `
key_terms:
  - name: revenue
    exists_in_database: true
synonyms:
  sales: revenue
  turnover: gross revenue
related_terms:
  - [revenue, margin]
`)
	configPath := writeFile(t, dir, "config.yaml", "catalog:\n  glossary_path: "+glossaryPath+"\n")

	tests := []struct {
		name     string
		args     []string
		wantErr  string
		contains []string
	}{
		{
			name:     "built-in glossary is consistent",
			args:     []string{"check-glossary"},
			contains: []string{"Assets Under Management", "8 key terms, 5 synonyms, 1 related groups: consistent"},
		},
		{
			name:     "dangling references",
			args:     []string{"check-glossary", "-c", configPath},
			wantErr:  "glossary references 2 undeclared key terms",
			contains: []string{"revenue", "Undeclared key terms:\n  - gross revenue\n  - margin\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, tt.args...)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			for _, want := range tt.contains {
				assert.Contains(t, stdout, want)
			}
		})
	}
}

func TestSchemaDoc(t *testing.T) {
	want := catalog.Default().Documentation() + "\n"

	stdout, _, err := execute(t, "schema-doc")
	require.NoError(t, err)
	assert.Equal(t, want, stdout)

	// Metadata queries fail against an empty database, so every hint is kept.
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", "warehouse:\n  driver: sqlite3\n  dsn: \":memory:\"\n")
	stdout, _, err = execute(t, "schema-doc", "--refresh", "--config", configPath)
	require.NoError(t, err)
	assert.Equal(t, want, stdout)
}

func TestCommandArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "ask needs a question", args: []string{"ask"}},
		{name: "serve takes no arguments", args: []string{"serve", "now"}},
		{name: "missing config file", args: []string{"schema-doc", "-c", "/nonexistent/config.yaml"}},
		{name: "unknown command", args: []string{"drop-tables"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &agent.TurnResult{
		Answer:       "Do you mean net revenue or payout?",
		Scenario:     answer.ScenarioAmbiguous,
		Alternatives: []string{"net revenue", "payout"},
	})
	assert.Equal(t, "Do you mean net revenue or payout?\n\nOptions:\n  - net revenue\n  - payout\n", buf.String())

	buf.Reset()
	printResult(&buf, &agent.TurnResult{
		Answer:    "AUM was 1.2B.",
		Scenario:  answer.ScenarioAnswerable,
		FollowUps: []string{"How did AUM change by advisor?"},
	})
	assert.Equal(t, "AUM was 1.2B.\n\nYou could also ask:\n  - How did AUM change by advisor?\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestBreakerChecker(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "warehouse", MaxFailures: 1}, nil)
	check := breakerChecker(cb)

	assert.Equal(t, health.StatusHealthy, check.Check(context.Background()).Status)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("connection refused") })
	r := check.Check(context.Background())
	assert.Equal(t, health.StatusDegraded, r.Status)
	assert.Equal(t, "connection refused", r.Error)
	assert.Equal(t, "open", r.Metadata["state"])
}
