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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/metrics"
)

// ErrCircuitOpen is returned without calling through while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets a single probe call through
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls when a breaker trips and recovers
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the circuit
	MaxFailures int
	// Cooldown is how long the circuit stays open before a probe
	Cooldown time.Duration
	// IsFailure decides which errors count; nil counts every error
	IsFailure func(error) bool
}

// CircuitBreakerStats is a snapshot of a breaker
type CircuitBreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"consecutive_failures"`
	LastFailure     string    `json:"last_failure,omitempty"`
	LastFailureTime time.Time `json:"last_failure_time"`
	StateChanged    time.Time `json:"state_changed"`
}

// CircuitBreaker fails fast after repeated failures of one dependency
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        CircuitState
	failures     int
	probing      bool
	lastErr      error
	lastFailure  time.Time
	stateChanged time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}

	cb := &CircuitBreaker{cfg: cfg, logger: logger, now: time.Now}
	cb.stateChanged = cb.now()
	metrics.CircuitOpen.WithLabelValues(cfg.Name).Set(0)
	return cb
}

// Execute calls fn unless the circuit is open. Errors that are not
// failures pass through and count as success.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.stateChanged) < cb.cfg.Cooldown {
			return fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == CircuitHalfOpen
	cb.probing = false

	// A cancelled caller says nothing about the dependency.
	if errors.Is(err, context.Canceled) {
		return
	}

	if !cb.cfg.IsFailure(err) {
		cb.failures = 0
		if wasProbe {
			cb.setState(CircuitClosed)
		}
		return
	}

	cb.failures++
	cb.lastErr = err
	cb.lastFailure = cb.now()
	if wasProbe || cb.failures >= cb.cfg.MaxFailures {
		cb.setState(CircuitOpen)
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.stateChanged = cb.now()

	open := 0.0
	if next == CircuitOpen {
		open = 1
	}
	metrics.CircuitOpen.WithLabelValues(cb.cfg.Name).Set(open)

	fields := []zap.Field{
		zap.String("name", cb.cfg.Name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("failures", cb.failures),
	}
	if next == CircuitOpen {
		cb.logger.Warn("Circuit opened", append(fields, zap.Error(cb.lastErr))...)
		return
	}
	cb.logger.Info("Circuit state changed", fields...)
}

// State returns the current state. An open circuit whose cooldown has
// elapsed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot for health reporting
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := CircuitBreakerStats{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		LastFailureTime: cb.lastFailure,
		StateChanged:    cb.stateChanged,
	}
	if cb.lastErr != nil {
		s.LastFailure = cb.lastErr.Error()
	}
	return s
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.setState(CircuitClosed)
}
