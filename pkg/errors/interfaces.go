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

package errors

import "errors"

// UserVisibleError is implemented by errors that carry a message fit for the
// person chatting with the bot or running the CLI.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	IsUserVisible() bool

	// UserMessage returns a message without implementation details.
	UserMessage() string

	// Suggestion returns actionable guidance, or "".
	Suggestion() string
}

// ErrorClassifier is implemented by errors that can be grouped for metrics
// and retry decisions.
type ErrorClassifier interface {
	error

	// ErrorType returns a short category such as "timeout" or "config".
	ErrorType() string

	// IsRetryable returns true if the caller may retry the operation.
	IsRetryable() bool
}

// UserMessageOf returns the user-facing message for err, or fallback when no
// error in the chain implements UserVisibleError.
func UserMessageOf(err error, fallback string) string {
	var uv UserVisibleError
	if errors.As(err, &uv) && uv.IsUserVisible() {
		return uv.UserMessage()
	}
	return fallback
}
