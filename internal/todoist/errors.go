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

package todoist

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCategory classifies API errors for logging and retry decisions.
type ErrorCategory string

const (
	ErrorCategoryAuth       ErrorCategory = "auth_invalid"
	ErrorCategoryNotFound   ErrorCategory = "not_found"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limited"
	ErrorCategoryValidation ErrorCategory = "validation_error"
	ErrorCategoryServer     ErrorCategory = "server_error"
)

// APIError is a non-2xx response from the Todoist API.
type APIError struct {
	StatusCode int
	Message    string
	Category   ErrorCategory
	// Endpoint is the request path without query.
	Endpoint string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("todoist %s: http %d (%s)", e.Endpoint, e.StatusCode, e.Category)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ErrorType implements errors.ErrorClassifier.
func (e *APIError) ErrorType() string { return string(e.Category) }

// IsRetryable implements errors.ErrorClassifier.
func (e *APIError) IsRetryable() bool {
	return e.Category == ErrorCategoryRateLimit || e.Category == ErrorCategoryServer
}

// IsUserVisible implements errors.UserVisibleError.
func (e *APIError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *APIError) UserMessage() string {
	switch e.Category {
	case ErrorCategoryAuth:
		return "Todoist rejected the API token."
	case ErrorCategoryRateLimit:
		return "Todoist is rate limiting requests. Try again later."
	case ErrorCategoryNotFound:
		return "Todoist could not find the requested item."
	default:
		return "Todoist request failed."
	}
}

// Suggestion implements errors.UserVisibleError.
func (e *APIError) Suggestion() string {
	if e.Category == ErrorCategoryAuth {
		return "Check TODOIST_API_TOKEN"
	}
	return ""
}

func categorize(status int) ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorCategoryAuth
	case status == http.StatusNotFound:
		return ErrorCategoryNotFound
	case status == http.StatusTooManyRequests:
		return ErrorCategoryRateLimit
	case status >= 500:
		return ErrorCategoryServer
	default:
		return ErrorCategoryValidation
	}
}

func newAPIError(endpoint string, status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return &APIError{
		StatusCode: status,
		Message:    msg,
		Category:   categorize(status),
		Endpoint:   endpoint,
	}
}
