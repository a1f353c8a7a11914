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

package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/sql-analytics-agent/internal/resilience"
)

// GuardedExecutor stops sending queries to a warehouse that keeps failing
// to connect. Rejected queries never trip the breaker; they are left to
// syntax repair.
type GuardedExecutor struct {
	inner   Executor
	breaker *resilience.CircuitBreaker
}

// NewGuardedExecutor wraps inner with breaker
func NewGuardedExecutor(inner Executor, breaker *resilience.CircuitBreaker) *GuardedExecutor {
	return &GuardedExecutor{inner: inner, breaker: breaker}
}

// IsConnectivityFailure is the breaker's failure predicate for a warehouse
func IsConnectivityFailure(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Execute implements Executor. While the circuit is open it fails with an
// error matching both ErrUnavailable and resilience.ErrCircuitOpen.
func (g *GuardedExecutor) Execute(ctx context.Context, query, dialect string) (string, error) {
	var result string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = g.inner.Execute(ctx, query, dialect)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return result, err
}

// Breaker exposes the breaker for health reporting
func (g *GuardedExecutor) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
