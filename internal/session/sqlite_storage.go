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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage stores one row per thread with JSON-encoded messages
type SQLiteStorage struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteStorage opens (or creates) the checkpoint database
func NewSQLiteStorage(dbPath string, ttl time.Duration) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	store := &SQLiteStorage{db: db, ttl: ttl}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStorage) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`

	_, err := s.db.Exec(query)
	return err
}

// Save upserts the thread
func (s *SQLiteStorage) Save(ctx context.Context, thread *Thread) error {
	messages, err := json.Marshal(thread.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	query := `
		INSERT INTO threads (thread_id, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`

	updated := thread.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	created := thread.CreatedAt
	if created.IsZero() {
		created = updated
	}

	if _, err := s.db.ExecContext(ctx, query, thread.ID, string(messages), created, updated); err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}

	return nil
}

// Load returns the stored thread, or ErrThreadNotFound when it is missing or expired
func (s *SQLiteStorage) Load(ctx context.Context, threadID string) (*Thread, error) {
	query := "SELECT thread_id, messages, created_at, updated_at FROM threads WHERE thread_id = ?"

	var (
		thread   Thread
		messages string
	)
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&thread.ID, &messages, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to scan thread: %w", err)
	}

	if s.ttl > 0 && time.Since(thread.UpdatedAt) > s.ttl {
		return nil, ErrThreadNotFound
	}

	if err := json.Unmarshal([]byte(messages), &thread.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if thread.Messages == nil {
		thread.Messages = []Message{}
	}

	return &thread, nil
}

// Delete removes a thread
func (s *SQLiteStorage) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Cleanup deletes threads idle for longer than the TTL
func (s *SQLiteStorage) Cleanup(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE updated_at < ?", cutoff); err != nil {
		return fmt.Errorf("failed to delete expired threads: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
