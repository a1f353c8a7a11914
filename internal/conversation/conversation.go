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

// Package conversation exposes stored threads and question turns over HTTP.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/session"
)

const titleLength = 80

// ThreadView is the client-facing description of a stored thread
type ThreadView struct {
	ID           string            `json:"thread_id"`
	Title        string            `json:"title"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LastActivity time.Time         `json:"last_activity"`
	Idle         string            `json:"idle"`
	MessageCount int               `json:"message_count"`
	TokenCount   int               `json:"token_count"`
	Messages     []session.Message `json:"messages"`
}

// Service reads and manages threads through the session manager
type Service struct {
	sessions *session.Manager
	logger   *zap.Logger
}

// NewService creates a thread service
func NewService(sessions *session.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sessions: sessions, logger: logger}
}

// Create stores a new empty thread
func (s *Service) Create(ctx context.Context) (*ThreadView, error) {
	thread, err := s.sessions.NewThread(ctx)
	if err != nil {
		return nil, err
	}
	return newThreadView(thread), nil
}

// Get returns the stored thread; session.ErrThreadNotFound when missing
func (s *Service) Get(ctx context.Context, threadID string) (*ThreadView, error) {
	thread, err := s.sessions.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return newThreadView(thread), nil
}

// Delete removes a thread. Unknown threads are not an error.
func (s *Service) Delete(ctx context.Context, threadID string) error {
	return s.sessions.Delete(ctx, threadID)
}

// IsNotFound reports whether err means the thread does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, session.ErrThreadNotFound)
}

func newThreadView(thread *session.Thread) *ThreadView {
	view := &ThreadView{
		ID:           thread.ID,
		Title:        titleFor(thread.Messages),
		CreatedAt:    thread.CreatedAt,
		UpdatedAt:    thread.UpdatedAt,
		LastActivity: thread.UpdatedAt,
		MessageCount: len(thread.Messages),
		TokenCount:   thread.TokenCount(),
		Messages:     thread.Messages,
	}
	if n := len(thread.Messages); n > 0 {
		view.LastActivity = thread.Messages[n-1].Timestamp
	}
	view.Idle = FormatDuration(time.Since(view.LastActivity))
	return view
}

// titleFor names a thread after its first question
func titleFor(messages []session.Message) string {
	for _, m := range messages {
		if m.Role == session.UserRole {
			return truncate(m.Content, titleLength)
		}
	}
	return "New thread"
}

func truncate(content string, maxRunes int) string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes]) + "..."
}

// FormatDuration renders a coarse human-readable duration
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
