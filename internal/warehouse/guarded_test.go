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

package warehouse_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/sql-analytics-agent/internal/resilience"
	"github.com/your-org/sql-analytics-agent/internal/warehouse"
	"github.com/your-org/sql-analytics-agent/internal/warehouse/warehousetest"
)

func TestGuardedExecutor(t *testing.T) {
	const (
		good   = "SELECT 1"
		broken = "SELEC 1"
		down   = "SELECT * FROM public.advisors"
	)
	fake := warehousetest.New().
		On(good, "one\n1").
		OnError(broken, errors.New(`syntax error at or near "SELEC"`)).
		OnError(down, fmt.Errorf("%w: dial tcp 10.0.0.5:5432: connection refused", warehouse.ErrUnavailable))

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "warehouse",
		MaxFailures: 2,
		Cooldown:    time.Hour,
		IsFailure:   warehouse.IsConnectivityFailure,
	}, zaptest.NewLogger(t))
	exec := warehouse.NewGuardedExecutor(fake, breaker)
	ctx := context.Background()

	out, err := exec.Execute(ctx, good, "PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "one\n1", out)

	for i := 0; i < 3; i++ {
		_, err = exec.Execute(ctx, broken, "PostgreSQL")
		require.Error(t, err)
		assert.NotErrorIs(t, err, warehouse.ErrUnavailable)
	}
	assert.Equal(t, resilience.CircuitClosed, exec.Breaker().State(), "rejected SQL must not trip the breaker")

	for i := 0; i < 2; i++ {
		_, err = exec.Execute(ctx, down, "PostgreSQL")
		assert.ErrorIs(t, err, warehouse.ErrUnavailable)
	}
	assert.Equal(t, resilience.CircuitOpen, exec.Breaker().State())

	calls := len(fake.Calls())
	_, err = exec.Execute(ctx, good, "PostgreSQL")
	assert.ErrorIs(t, err, warehouse.ErrUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Len(t, fake.Calls(), calls, "open circuit must not reach the warehouse")
}
