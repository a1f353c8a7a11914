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

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/sql-analytics-agent/internal/agent"
	"github.com/your-org/sql-analytics-agent/internal/answer"
	"github.com/your-org/sql-analytics-agent/internal/health"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

type stubTurns struct {
	progress []string
	result   *agent.TurnResult
	err      error

	threadID string
	question string
}

func (s *stubTurns) RunTurn(_ context.Context, threadID, question string, sink streaming.Sink) (*agent.TurnResult, error) {
	s.threadID, s.question = threadID, question
	for _, msg := range s.progress {
		sink.Emit(streaming.StageQueryExecution, msg)
	}
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.ThreadID = threadID
	return &r, nil
}

func answered() *agent.TurnResult {
	return &agent.TurnResult{
		Answer:         "Revenue grew 12% year over year.",
		Scenario:       answer.ScenarioAnswerable,
		FollowUps:      []string{"Which region grew fastest?"},
		KeyAssumptions: []string{"Revenue means net revenue."},
	}
}

func newTestRouter(t *testing.T, turns TurnRunner) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	hm := health.NewManager("sql-analytics-agent", "test", zaptest.NewLogger(t))
	return NewAPIHandler(svc, turns, hm, zaptest.NewLogger(t)).NewRouter()
}

func do(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) resilience.ErrorResponse {
	t.Helper()
	var body resilience.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestThreadEndpoints(t *testing.T) {
	router := newTestRouter(t, &stubTurns{result: answered()})

	rec := do(router, http.MethodPost, "/v1/threads", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ThreadID string `json:"thread_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ThreadID)

	rec = do(router, http.MethodGet, "/v1/threads/"+created.ThreadID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view ThreadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, created.ThreadID, view.ID)
	assert.Empty(t, view.Messages)

	rec = do(router, http.MethodDelete, "/v1/threads/"+created.ThreadID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/v1/threads/"+created.ThreadID, "", "X-Request-ID", "req-42")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Thread not found.", body.Error)
	assert.Equal(t, string(resilience.ErrorCodeNotFound), body.Code)
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestInvalidThreadID(t *testing.T) {
	router := newTestRouter(t, &stubTurns{result: answered()})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := do(router, method, "/v1/threads/not-a-thread", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, method)
	}
	rec := do(router, http.MethodPost, "/v1/threads/not-a-thread/messages", `{"question":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessage(t *testing.T) {
	turns := &stubTurns{progress: []string{"SQL queries created: 1", "Query 1 executed"}, result: answered()}
	router := newTestRouter(t, turns)
	threadID := uuid.NewString()

	rec := do(router, http.MethodPost, "/v1/threads/"+threadID+"/messages", `{"question":"  How did revenue trend?  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, threadID, turns.threadID)
	assert.Equal(t, "How did revenue trend?", turns.question)

	var body struct {
		ThreadID       string            `json:"thread_id"`
		Answer         string            `json:"answer"`
		Scenario       string            `json:"scenario"`
		FollowUps      []string          `json:"follow_ups"`
		KeyAssumptions []string          `json:"key_assumptions"`
		Progress       []streaming.Event `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, threadID, body.ThreadID)
	assert.Equal(t, "Revenue grew 12% year over year.", body.Answer)
	assert.Equal(t, "A", body.Scenario)
	assert.Equal(t, []string{"Which region grew fastest?"}, body.FollowUps)
	assert.Equal(t, []string{"Revenue means net revenue."}, body.KeyAssumptions)
	require.Len(t, body.Progress, 2)
	assert.Equal(t, "SQL queries created: 1", body.Progress[0].Message)
	assert.Equal(t, "Query 1 executed", body.Progress[1].Message)
}

func TestPostMessageRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "missing question", body: `{}`, wantMsg: "The request body must be JSON with a question."},
		{name: "not json", body: `question=hi`, wantMsg: "The request body must be JSON with a question."},
		{name: "blank question", body: `{"question":"   "}`, wantMsg: "The question cannot be empty."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := &stubTurns{result: answered()}
			router := newTestRouter(t, turns)

			rec := do(router, http.MethodPost, "/v1/threads/"+uuid.NewString()+"/messages", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec).Error)
			assert.Empty(t, turns.question, "turn must not run")
		})
	}
}

func TestPostMessageFailureHidesInternals(t *testing.T) {
	turns := &stubTurns{err: errors.New("execute_queries: warehouse unavailable: dial tcp 10.0.0.7:5432")}
	router := newTestRouter(t, turns)

	rec := do(router, http.MethodPost, "/v1/threads/"+uuid.NewString()+"/messages", `{"question":"revenue?"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "The service is temporarily unavailable. Please try again later.", body.Error)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestPostMessageStream(t *testing.T) {
	turns := &stubTurns{progress: []string{"Classifying question", "SQL queries created: 2"}, result: answered()}
	router := newTestRouter(t, turns)

	rec := do(router, http.MethodPost, "/v1/threads/"+uuid.NewString()+"/messages?stream=true", `{"question":"revenue?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	first := strings.Index(out, "Classifying question")
	second := strings.Index(out, "SQL queries created: 2")
	done := strings.Index(out, "event: complete")
	require.True(t, first >= 0 && second > first && done > second, "unexpected stream order:\n%s", out)
	assert.Equal(t, 2, strings.Count(out, "event: progress"))
	assert.Contains(t, out[done:], "Revenue grew 12% year over year.")
	assert.NotContains(t, out, "event: error")
}

func TestPostMessageStreamError(t *testing.T) {
	turns := &stubTurns{progress: []string{"Classifying question"}, err: errors.New("llm: rate limit exceeded")}
	router := newTestRouter(t, turns)

	rec := do(router, http.MethodPost, "/v1/threads/"+uuid.NewString()+"/messages?stream=true", `{"question":"revenue?"}`)
	out := rec.Body.String()
	assert.Contains(t, out, "event: progress")
	require.Contains(t, out, "event: error")
	assert.Contains(t, out, "Too many requests. Please wait a moment and try again.")
	assert.NotContains(t, out, "event: complete")
}

func TestOperationalRoutes(t *testing.T) {
	router := newTestRouter(t, &stubTurns{result: answered()})

	rec := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = do(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sql_agent_turn_duration_seconds")

	rec = do(router, http.MethodOptions, "/v1/threads", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsPathDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	h := NewAPIHandler(svc, &stubTurns{result: answered()}, nil, zaptest.NewLogger(t))
	h.SetMetricsPath("")
	router := h.NewRouter()

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/health", "").Code)
}
