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

// Package session persists conversation threads between turns. A thread is
// keyed by id and holds the conversation history; everything else a turn
// computes is recomputed on the next turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/config"
	"github.com/your-org/sql-analytics-agent/internal/tokens"
)

// ErrThreadNotFound is returned by Storage.Load for unknown or expired threads.
var ErrThreadNotFound = errors.New("thread not found")

// StorageType represents the type of storage backend for threads
type StorageType string

const (
	// MemoryStorageType keeps threads in a TTL cache
	MemoryStorageType StorageType = "memory"
	// SQLiteStorageType keeps threads in a SQLite database
	SQLiteStorageType StorageType = "sqlite"
)

// Thread is the persisted part of a conversation
type Thread struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the message slice.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return &c
}

// TokenCount returns the tracked token cost of the history.
func (t *Thread) TokenCount() int {
	return CountTokensInMessages(t.Messages)
}

// Message represents a single message in a conversation
type Message struct {
	ID         string      `json:"id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	TokenCount int         `json:"token_count"`
}

// MessageRole represents the role of a message sender
type MessageRole string

const (
	// UserRole indicates a message from the user
	UserRole MessageRole = "user"
	// AssistantRole indicates a message from the assistant
	AssistantRole MessageRole = "assistant"
	// SummaryRole marks the message that replaced compressed history
	SummaryRole MessageRole = "summary"
)

// NewMessage builds a message with a fresh id and token estimate.
func NewMessage(role MessageRole, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		TokenCount: tokens.Estimate(content),
	}
}

// CountTokensInMessages sums the token counts of messages
func CountTokensInMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += m.TokenCount
	}
	return total
}

// Transcript renders messages one per line as "role: content" for prompts.
// An empty history renders as "None".
func Transcript(messages []Message) string {
	if len(messages) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Storage is a keyed thread store
type Storage interface {
	// Save stores the thread, replacing any previous version
	Save(ctx context.Context, thread *Thread) error
	// Load returns the most recent version, or ErrThreadNotFound
	Load(ctx context.Context, threadID string) (*Thread, error)
	// Delete removes a thread; deleting an unknown thread is not an error
	Delete(ctx context.Context, threadID string) error
	// Ping reports whether the backend is usable
	Ping(ctx context.Context) error
	// Close releases the backend
	Close() error
}

// cleaner is implemented by backends that can drop expired threads
type cleaner interface {
	Cleanup(ctx context.Context) error
}

// NewStorage builds the backend selected by the checkpoint config
func NewStorage(cfg config.CheckpointConfig) (Storage, error) {
	switch StorageType(cfg.StorageType) {
	case MemoryStorageType, "":
		return NewMemoryStorage(cfg.TTL, cfg.MaxThreads), nil
	case SQLiteStorageType:
		return NewSQLiteStorage(cfg.DBPath, cfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// Manager wraps a Storage with thread creation and periodic cleanup
type Manager struct {
	storage Storage
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewManager creates a manager. A positive cleanupInterval starts a
// background loop that drops expired threads.
func NewManager(storage Storage, cleanupInterval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		storage: storage,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if _, ok := storage.(cleaner); ok && cleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop(cleanupInterval)
	}

	return m
}

// NewThread creates and stores an empty thread
func (m *Manager) NewThread(ctx context.Context) (*Thread, error) {
	now := time.Now().UTC()
	thread := &Thread{
		ID:        uuid.NewString(),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.storage.Save(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	m.logger.Info("Created new thread", zap.String("thread_id", thread.ID))
	return thread, nil
}

// Get returns a stored thread or ErrThreadNotFound
func (m *Manager) Get(ctx context.Context, threadID string) (*Thread, error) {
	thread, err := m.storage.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	return thread, nil
}

// LoadOrNew returns the stored thread, or an unsaved empty thread with the
// given id when nothing has been stored yet.
func (m *Manager) LoadOrNew(ctx context.Context, threadID string) (*Thread, error) {
	thread, err := m.storage.Load(ctx, threadID)
	if errors.Is(err, ErrThreadNotFound) {
		now := time.Now().UTC()
		return &Thread{ID: threadID, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	return thread, nil
}

// Save stores the thread after stamping UpdatedAt
func (m *Manager) Save(ctx context.Context, thread *Thread) error {
	thread.UpdatedAt = time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = thread.UpdatedAt
	}

	if err := m.storage.Save(ctx, thread); err != nil {
		return fmt.Errorf("failed to save thread %s: %w", thread.ID, err)
	}

	m.logger.Debug("Saved thread",
		zap.String("thread_id", thread.ID),
		zap.Int("messages", len(thread.Messages)),
		zap.Int("token_count", thread.TokenCount()))
	return nil
}

// Delete removes a thread
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	if err := m.storage.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}

	m.logger.Info("Deleted thread", zap.String("thread_id", threadID))
	return nil
}

// Ping checks the storage backend
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c := m.storage.(cleaner)
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.Cleanup(ctx); err != nil {
				m.logger.Error("Failed to cleanup expired threads", zap.Error(err))
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the cleanup loop and closes the storage
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		if cerr := m.storage.Close(); cerr != nil {
			err = fmt.Errorf("failed to close storage: %w", cerr)
		}
	})
	return err
}
