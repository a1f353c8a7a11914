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

// Package health reports whether the agent's dependencies are reachable
package health

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	// StatusDegraded means an optional dependency failed; turns still run
	StatusDegraded = "degraded"
	// DefaultTimeout bounds one full round of checks
	DefaultTimeout = 5 * time.Second
)

// CheckResult is the outcome of one dependency check
type CheckResult struct {
	Status    string         `json:"status"`
	Latency   time.Duration  `json:"latency"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Response is the body served by the health endpoint
type Response struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Uptime       time.Duration          `json:"uptime"`
	Dependencies map[string]CheckResult `json:"dependencies"`
	Metadata     map[string]any         `json:"metadata"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Checker checks one dependency
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) CheckResult

// Check implements Checker
func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// Manager runs the registered checks
type Manager struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewManager creates a manager with no checks
func NewManager(serviceName, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     DefaultTimeout,
		logger:      logger,
		checkers:    make(map[string]Checker),
	}
}

// SetTimeout changes the per-round timeout
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// AddChecker registers a check under name, replacing any previous one
func (m *Manager) AddChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// Check runs every check concurrently. Any unhealthy dependency makes the
// service unhealthy; otherwise any degraded one makes it degraded.
func (m *Manager) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		m.mu.RLock()
		checker := m.checkers[name]
		m.mu.RUnlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			r := checker.Check(ctx)
			r.Latency = time.Since(start)
			r.Timestamp = time.Now()
			results[i] = r
		}()
	}
	wg.Wait()

	status := StatusHealthy
	deps := make(map[string]CheckResult, len(names))
	for i, name := range names {
		r := results[i]
		deps[name] = r
		switch {
		case r.Status == StatusUnhealthy:
			status = StatusUnhealthy
		case r.Status == StatusDegraded && status != StatusUnhealthy:
			status = StatusDegraded
		}
		if r.Status != StatusHealthy {
			m.logger.Warn("Dependency check failed",
				zap.String("dependency", name),
				zap.String("status", r.Status),
				zap.String("error", r.Error))
		}
	}

	return Response{
		Status:       status,
		Service:      m.serviceName,
		Version:      m.version,
		Uptime:       time.Since(m.startTime),
		Dependencies: deps,
		Metadata: map[string]any{
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
		Timestamp: time.Now(),
	}
}

// Handler serves the health response; unhealthy maps to 503
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := m.Check(c.Request.Context())
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

// PingChecker checks a dependency through its ping function. A required
// dependency that fails is unhealthy; an optional one is degraded.
func PingChecker(kind string, required bool, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if required {
				status = StatusUnhealthy
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return CheckResult{Status: status, Error: "ping timed out", Metadata: map[string]any{"kind": kind}}
			}
			return CheckResult{Status: status, Error: err.Error(), Metadata: map[string]any{"kind": kind}}
		}
		return CheckResult{Status: StatusHealthy, Metadata: map[string]any{"kind": kind}}
	})
}
