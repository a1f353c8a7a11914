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

// Package warehouse runs generated SQL against the analytics database and
// renders results as compact text tables for the language model.
package warehouse

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	// Registered drivers: clickhouse, mysql, pgx, sqlite3
	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
)

// NoResults is the rendering of an empty result set
const NoResults = "No results found."

// maxScanRows bounds how many rows are read from one result
const maxScanRows = 5000

// ErrUnavailable marks a failure to reach the warehouse at all, as opposed
// to a query the warehouse rejected.
var ErrUnavailable = errors.New("warehouse unavailable")

// Executor runs one query and returns its rendered result. A rejected
// query is returned as an error; the caller decides how to recover.
type Executor interface {
	Execute(ctx context.Context, query, dialect string) (string, error)
}

// SQLExecutor executes queries through database/sql
type SQLExecutor struct {
	db      *sql.DB
	dialect string
	timeout time.Duration
	logger  *zap.Logger
}

// NewSQLExecutor opens the configured warehouse. The connection is lazy;
// use Ping to check reachability.
func NewSQLExecutor(cfg config.WarehouseConfig, logger *zap.Logger) (*SQLExecutor, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s warehouse: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	dialect := cfg.Dialect
	if dialect == "" {
		dialect = config.DialectForDriver(cfg.Driver)
	}
	return NewSQLExecutorFromDB(db, dialect, cfg.QueryTimeout, logger), nil
}

// NewSQLExecutorFromDB wraps an open database
func NewSQLExecutorFromDB(db *sql.DB, dialect string, timeout time.Duration, logger *zap.Logger) *SQLExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLExecutor{db: db, dialect: dialect, timeout: timeout, logger: logger}
}

// Dialect returns the SQL dialect queries must be written in
func (e *SQLExecutor) Dialect() string {
	return e.dialect
}

// Execute implements Executor
func (e *SQLExecutor) Execute(ctx context.Context, query, dialect string) (string, error) {
	start := time.Now()
	columns, rows, truncated, err := e.query(ctx, query)
	if err != nil {
		metrics.QueryDuration.WithLabelValues(metrics.OutcomeError).Observe(time.Since(start).Seconds())
		e.logger.Debug("Query rejected",
			zap.String("dialect", dialect),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", err
	}
	metrics.QueryDuration.WithLabelValues(metrics.OutcomeSuccess).Observe(time.Since(start).Seconds())

	e.logger.Debug("Query executed",
		zap.String("dialect", dialect),
		zap.Int("rows", len(rows)),
		zap.Bool("truncated", truncated),
		zap.Duration("duration", time.Since(start)))

	out := FormatRows(columns, rows)
	if truncated {
		out += fmt.Sprintf("\n(result truncated at %d rows)", maxScanRows)
	}
	return out, nil
}

// QueryRows returns every row as strings. It backs catalog refreshes.
func (e *SQLExecutor) QueryRows(ctx context.Context, query string) ([][]string, error) {
	_, rows, _, err := e.query(ctx, query)
	return rows, err
}

// Ping checks that the warehouse is reachable
func (e *SQLExecutor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the connection pool
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

func (e *SQLExecutor) query(ctx context.Context, query string) ([]string, [][]string, bool, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, false, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, classify(err)
	}

	var (
		out       [][]string
		truncated bool
	)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(out) == maxScanRows {
			truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, classify(err)
		}
		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, classify(err)
	}

	return columns, out, truncated, nil
}

// classify tags connection-level failures with ErrUnavailable
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var opErr *net.OpError
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// CleanSQL strips surrounding whitespace, code fences and a trailing semicolon
func CleanSQL(query string) string {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "```") {
		query = strings.TrimPrefix(query, "```sql")
		query = strings.TrimPrefix(query, "```")
		query = strings.TrimSuffix(query, "```")
		query = strings.TrimSpace(query)
	}
	query = strings.TrimSuffix(query, ";")
	return strings.TrimSpace(query)
}

// FormatRows renders a result set as a text table, or NoResults when empty
func FormatRows(columns []string, rows [][]string) string {
	if len(rows) == 0 {
		return NoResults
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnSeparator("|")
	table.AppendBulk(rows)
	table.Render()

	return strings.TrimRight(buf.String(), "\n")
}

const maxCellRunes = 100

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return truncate(string(val))
	case float64:
		// Shortest exact form; small rates must not round to zero.
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	default:
		return truncate(fmt.Sprintf("%v", v))
	}
}

// truncate caps a cell at maxCellRunes, cutting on a rune boundary.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxCellRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxCellRunes-3]) + "..."
}
