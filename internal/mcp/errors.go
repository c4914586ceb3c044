// Copyright 2025 Tom Barlow
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

package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of server lifecycle error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeNotReady indicates a server exists but cannot take requests.
	ErrorCodeNotReady MCPErrorCode = "NOT_READY"
	// ErrorCodeStartFailed indicates a server failed to spawn.
	ErrorCodeStartFailed MCPErrorCode = "START_FAILED"
	// ErrorCodeHandshakeFailed indicates the initialize exchange failed.
	ErrorCodeHandshakeFailed MCPErrorCode = "HANDSHAKE_FAILED"
	// ErrorCodeConnectionClosed indicates the server connection closed.
	ErrorCodeConnectionClosed MCPErrorCode = "CONNECTION_CLOSED"
	// ErrorCodeRestartExhausted indicates the single restart did not help.
	ErrorCodeRestartExhausted MCPErrorCode = "RESTART_EXHAUSTED"
)

// MCPError is a server lifecycle error with suggestions for resolution.
type MCPError struct {
	Code        MCPErrorCode
	Message     string
	Detail      string
	Suggestions []string
	Cause       error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *MCPError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string {
	return e.Message
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{Code: code, Message: message}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	if cause != nil && e.Detail == "" {
		e.Detail = cause.Error()
	}
	return e
}

// ErrServerNotFound is returned when a name is absent from the pool.
func ErrServerNotFound(name string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", name)).
		WithSuggestions("List configured servers: flint mcp list")
}

// ErrServerNotReady is returned when a connection exists but is not Ready.
func ErrServerNotReady(name string, state State) *MCPError {
	return NewMCPError(ErrorCodeNotReady, fmt.Sprintf("MCP server '%s' is %s", name, state)).
		WithSuggestions(fmt.Sprintf("Check status: flint mcp status %s", name))
}

// ErrStartFailed wraps a spawn failure.
func ErrStartFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeStartFailed, fmt.Sprintf("Failed to start MCP server '%s'", name)).
		WithCause(cause).
		WithSuggestions(
			"Verify the cmd and args in the mcps section",
			"Ensure required environment variables are set",
		)
}

// ErrHandshakeFailed wraps an initialize failure.
func ErrHandshakeFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeHandshakeFailed, fmt.Sprintf("MCP server '%s' failed the initialize handshake", name)).
		WithCause(cause).
		WithSuggestions("Run the server command by hand and check it speaks MCP on stdio")
}

// ErrConnectionClosed is returned when the server side of the pipe is gone.
func ErrConnectionClosed(name string) *MCPError {
	return NewMCPError(ErrorCodeConnectionClosed, fmt.Sprintf("Connection to MCP server '%s' closed", name))
}

// ErrRestartExhausted marks a connection terminated after its one restart.
func ErrRestartExhausted(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeRestartExhausted, fmt.Sprintf("MCP server '%s' failed again after restart", name)).
		WithCause(cause).
		WithSuggestions("Fix the server and reload the configuration, or restart flint")
}

// ErrorKind classifies a failed dispatch.
type ErrorKind string

const (
	// KindServerUnavailable means the server is absent, disabled or terminated.
	KindServerUnavailable ErrorKind = "server_unavailable"
	// KindTimeout means the single request exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindProtocolError means the server or completion provider returned
	// something unusable.
	KindProtocolError ErrorKind = "protocol_error"
	// KindProcessFault means the server process died under the request.
	KindProcessFault ErrorKind = "process_fault"
)

// DispatchError is the uniform failure value carried by a Result.
type DispatchError struct {
	Kind      ErrorKind
	Server    string
	RequestID string
	Cause     error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("dispatch to %s failed (%s)", e.Server, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *DispatchError) IsUserVisible() bool { return true }

// UserMessage implements pkg/errors.UserVisibleError. Protocol and process
// details stay in the logs.
func (e *DispatchError) UserMessage() string {
	switch e.Kind {
	case KindServerUnavailable:
		return fmt.Sprintf("The %s server is not configured or unavailable.", e.Server)
	case KindTimeout:
		return fmt.Sprintf("The %s server timed out. Please try again.", e.Server)
	default:
		return GenericFailureMessage
	}
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *DispatchError) Suggestion() string {
	if e.Kind == KindServerUnavailable {
		return "List available commands with /list_mcps"
	}
	return ""
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *DispatchError) ErrorType() string { return string(e.Kind) }

// IsRetryable implements pkg/errors.ErrorClassifier. Timeouts are retryable
// by the caller; flint itself never retries a dispatch.
func (e *DispatchError) IsRetryable() bool { return e.Kind == KindTimeout }

// GenericFailureMessage is shown for failures whose details are not useful
// to the person chatting.
const GenericFailureMessage = "Sorry, I encountered an error processing this command."

// KindOf returns the ErrorKind of err, or "" if err is not a DispatchError.
func KindOf(err error) ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
