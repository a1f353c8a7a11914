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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/sql-analytics-agent/internal/agent"
	"github.com/your-org/sql-analytics-agent/internal/health"
	"github.com/your-org/sql-analytics-agent/internal/metrics"
	"github.com/your-org/sql-analytics-agent/internal/resilience"
	"github.com/your-org/sql-analytics-agent/internal/streaming"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	// progressBuffer holds undelivered SSE progress events
	progressBuffer = 128
)

// TurnRunner answers one question on a thread
type TurnRunner interface {
	RunTurn(ctx context.Context, threadID, question string, sink streaming.Sink) (*agent.TurnResult, error)
}

// APIHandler serves the thread and turn endpoints
type APIHandler struct {
	threads *Service
	turns   TurnRunner
	health  *health.Manager
	errors  *resilience.ErrorHandler
	logger  *zap.Logger

	metricsPath string
}

// NewAPIHandler creates the handler. health may be nil, in which case
// /health is not registered.
func NewAPIHandler(threads *Service, turns TurnRunner, healthManager *health.Manager, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		threads: threads,
		turns:   turns,
		health:  healthManager,
		errors:  resilience.NewErrorHandler(logger),
		logger:  logger,

		metricsPath: "/metrics",
	}
}

// SetMetricsPath moves the Prometheus endpoint; an empty path disables it
func (h *APIHandler) SetMetricsPath(path string) {
	h.metricsPath = path
}

// MessageRequest is the body of POST /v1/threads/:thread_id/messages
type MessageRequest struct {
	Question string `json:"question" binding:"required"`
}

// MessageResponse is a finished turn plus the progress it reported
type MessageResponse struct {
	*agent.TurnResult
	Progress []streaming.Event `json:"progress"`
}

// NewRouter builds a gin engine with the API routes and middleware
func (h *APIHandler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.RequestIDMiddleware(), h.RequestLoggingMiddleware(), h.CORSMiddleware())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the API routes
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/v1/threads")
	{
		api.POST("", h.createThread)
		api.GET("/:thread_id", h.getThread)
		api.DELETE("/:thread_id", h.deleteThread)
		api.POST("/:thread_id/messages", h.postMessage)
	}

	if h.health != nil {
		router.GET("/health", h.health.Handler())
	}
	if h.metricsPath != "" {
		router.GET(h.metricsPath, gin.WrapH(metrics.Handler()))
	}
}

// createThread handles POST /v1/threads
func (h *APIHandler) createThread(c *gin.Context) {
	view, err := h.threads.Create(c.Request.Context())
	if err != nil {
		h.writeError(c, h.errors.WrapError(err, "creating a thread"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread_id": view.ID})
}

// getThread handles GET /v1/threads/:thread_id
func (h *APIHandler) getThread(c *gin.Context) {
	threadID, ok := h.threadID(c)
	if !ok {
		return
	}

	view, err := h.threads.Get(c.Request.Context(), threadID)
	if err != nil {
		if IsNotFound(err) {
			h.writeError(c, resilience.NewNotFoundError("Thread not found.", err))
			return
		}
		h.writeError(c, h.errors.WrapError(err, "loading the thread"))
		return
	}
	c.JSON(http.StatusOK, view)
}

// deleteThread handles DELETE /v1/threads/:thread_id
func (h *APIHandler) deleteThread(c *gin.Context) {
	threadID, ok := h.threadID(c)
	if !ok {
		return
	}

	if err := h.threads.Delete(c.Request.Context(), threadID); err != nil {
		h.writeError(c, h.errors.WrapError(err, "deleting the thread"))
		return
	}
	c.Status(http.StatusNoContent)
}

// postMessage handles POST /v1/threads/:thread_id/messages
func (h *APIHandler) postMessage(c *gin.Context) {
	threadID, ok := h.threadID(c)
	if !ok {
		return
	}

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, resilience.NewBadRequestError("The request body must be JSON with a question.", err))
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		h.writeError(c, resilience.NewBadRequestError("The question cannot be empty.", agent.ErrEmptyQuestion))
		return
	}

	if c.Query("stream") == "true" {
		h.streamTurn(c, threadID, question)
		return
	}

	progress := streaming.NewEventStream(threadID, 0)
	defer progress.Close()

	result, err := h.turns.RunTurn(c.Request.Context(), threadID, question, progress)
	if err != nil {
		h.writeError(c, h.turnError(err))
		return
	}

	events := progress.Drain()
	if events == nil {
		events = []streaming.Event{}
	}
	c.JSON(http.StatusOK, MessageResponse{TurnResult: result, Progress: events})
}

type turnOutcome struct {
	result *agent.TurnResult
	err    error
}

// streamTurn runs the turn in the background and relays progress as
// Server-Sent Events, then finishes with one complete or error event.
func (h *APIHandler) streamTurn(c *gin.Context, threadID, question string) {
	ctx := c.Request.Context()

	// Events reach the client through the callback; the stream's own
	// buffer is never drained.
	events := make(chan streaming.Event, progressBuffer)
	progress := streaming.NewEventStream(threadID, 1)
	progress.AddCallback(func(event streaming.Event) {
		select {
		case events <- event:
		default:
		}
	})

	done := make(chan turnOutcome, 1)
	go func() {
		defer progress.Close()
		result, err := h.turns.RunTurn(ctx, threadID, question, progress)
		done <- turnOutcome{result: result, err: err}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	write := func(event streaming.Event) {
		_, _ = fmt.Fprint(c.Writer, event.ToSSEMessage())
		c.Writer.Flush()
	}

	for {
		select {
		case event := <-events:
			write(event)
		case outcome := <-done:
			for pending := true; pending; {
				select {
				case event := <-events:
					write(event)
				default:
					pending = false
				}
			}
			write(h.terminalEvent(outcome))
			return
		case <-ctx.Done():
			h.logger.Info("Client left during a streamed turn", zap.String("thread_id", threadID))
			return
		}
	}
}

func (h *APIHandler) terminalEvent(outcome turnOutcome) streaming.Event {
	if outcome.err != nil {
		serviceErr := h.turnError(outcome.err)
		event := streaming.NewEvent(streaming.EventTypeError, streaming.StageComplete, serviceErr.Message)
		event.Error = serviceErr.Message
		return event
	}
	event := streaming.NewEvent(streaming.EventTypeComplete, streaming.StageComplete, "Turn complete")
	event.Data = map[string]interface{}{"result": outcome.result}
	return event
}

func (h *APIHandler) turnError(err error) *resilience.ServiceError {
	if errors.Is(err, agent.ErrEmptyQuestion) {
		return resilience.NewBadRequestError("The question cannot be empty.", err)
	}
	return h.errors.WrapError(err, "answering your question")
}

func (h *APIHandler) threadID(c *gin.Context) (string, bool) {
	threadID := c.Param("thread_id")
	if _, err := uuid.Parse(threadID); err != nil {
		h.writeError(c, resilience.NewBadRequestError("Invalid thread id.", err))
		return "", false
	}
	return threadID, true
}

func (h *APIHandler) writeError(c *gin.Context, err *resilience.ServiceError) {
	c.AbortWithStatusJSON(err.StatusCode, err.ToErrorResponse(c.GetString(requestIDKey)))
}

// RequestIDMiddleware propagates or assigns an X-Request-ID
func (h *APIHandler) RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// RequestLoggingMiddleware logs one line per request
func (h *APIHandler) RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)))
	}
}

// CORSMiddleware allows browser clients from any origin
func (h *APIHandler) CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
