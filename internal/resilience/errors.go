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
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorResponse is the JSON body returned for every failed request
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode represents standard error codes used across the system
type ErrorCode string

const (
	// Client errors (4xx)
	ErrorCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// Server errors (5xx)
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
	ErrorCodeDependencyFailure  ErrorCode = "DEPENDENCY_FAILURE"
)

// ServiceError carries a user-facing message next to the internal cause
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ToErrorResponse converts a ServiceError to an ErrorResponse
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// NewServiceError creates a new ServiceError with the given parameters
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeBadRequest, http.StatusBadRequest, internal)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeNotFound, http.StatusNotFound, internal)
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// NewDependencyFailureError creates a new dependency failure error
func NewDependencyFailureError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeDependencyFailure, http.StatusBadGateway, internal)
}

// ErrorHandler turns internal failures into plain-language service errors
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// WrapError wraps err with a user-friendly message and an error code. The
// raw error text is logged and kept as Internal but never becomes Message.
func (eh *ErrorHandler) WrapError(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}

	userMessage := userFriendlyMessage(err, operation)
	code, statusCode := categorizeError(err)

	if eh != nil {
		eh.logger.Error("Error occurred during operation",
			zap.String("operation", operation),
			zap.Error(err),
			zap.String("user_message", userMessage),
			zap.String("error_code", string(code)))
	}

	return NewServiceError(userMessage, code, statusCode, err)
}

func userFriendlyMessage(err error, operation string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request is taking longer than expected. Please try again."
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled before it finished."
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "The request is taking longer than expected. Please try again."
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return "Unable to reach the data service. Please try again later."
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return "Too many requests. Please wait a moment and try again."
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "authentication"):
		return "The assistant is not authorised to reach one of its services."
	case strings.Contains(errStr, "unavailable"):
		return "The service is temporarily unavailable. Please try again later."
	default:
		return fmt.Sprintf("Sorry, something went wrong while %s. Please try rephrasing your question or try again.", operation)
	}
}

func categorizeError(err error) (ErrorCode, int) {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout, http.StatusGatewayTimeout
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return ErrorCodeTimeout, http.StatusGatewayTimeout
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return ErrorCodeDependencyFailure, http.StatusBadGateway
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return ErrorCodeTooManyRequests, http.StatusTooManyRequests
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "authentication"):
		return ErrorCodeDependencyFailure, http.StatusBadGateway
	case strings.Contains(errStr, "unavailable"):
		return ErrorCodeServiceUnavailable, http.StatusServiceUnavailable
	default:
		return ErrorCodeInternalError, http.StatusInternalServerError
	}
}
