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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateServerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "weather", false},
		{"valid with hyphen", "google-calendar", false},
		{"valid with underscore", "my_server", false},
		{"valid with numbers", "server123", false},
		{"empty", "", true},
		{"upper case is not normalized", "Weather", true},
		{"starts with number", "123server", true},
		{"starts with hyphen", "-server", true},
		{"contains space", "my server", true},
		{"contains dot", "my.server", true},
		{"too long", "a" + strings.Repeat("b", 64), true},
		{"max length", "a" + strings.Repeat("b", 63), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerName(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateServerName(%q) = %v", tt.input, err)
		})
	}
}

func TestRedactEnv(t *testing.T) {
	env := map[string]string{
		"TODOIST_API_TOKEN":    "abc",
		"GOOGLE_CLIENT_SECRET": "def",
		"TZ":                   "Europe/Berlin",
	}

	got := RedactEnv(env)

	assert.Equal(t, "***REDACTED***", got["TODOIST_API_TOKEN"])
	assert.Equal(t, "***REDACTED***", got["GOOGLE_CLIENT_SECRET"])
	assert.Equal(t, "Europe/Berlin", got["TZ"])
	assert.Equal(t, "abc", env["TODOIST_API_TOKEN"], "input must not be modified")
}
