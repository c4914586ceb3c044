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
	"encoding/json"
	"time"
)

// Transport identifies how flint talks to a tool server.
type Transport string

const (
	// TransportStdio launches the server as a subprocess speaking JSON-RPC
	// over stdin/stdout.
	TransportStdio Transport = "stdio"
)

// State is the lifecycle state of a server connection.
type State string

const (
	// StateStarting means the process is spawned and the handshake is in flight.
	StateStarting State = "starting"
	// StateReady means the handshake succeeded and requests may be routed.
	StateReady State = "ready"
	// StateDegraded means a probe or request observed a fault and a restart
	// is in progress.
	StateDegraded State = "degraded"
	// StateTerminated means the connection is stopped for the rest of the run.
	StateTerminated State = "terminated"
)

// ToolDefinition represents an MCP tool exposed by a server.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallRequest represents a request to execute an MCP tool.
type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResponse represents the result of an MCP tool execution.
type ToolCallResponse struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text joins the text items of the response.
func (r *ToolCallResponse) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, item := range r.Content {
		if item.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += item.Text
	}
	return out
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, resource, resource_link).
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// URI is set for embedded resources and resource links. Flint surfaces
	// these as citations.
	URI string `json:"uri,omitempty"`
}

// ServerCapabilities describes what an MCP server advertised during the
// initialize handshake.
type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

// ServerStatus is a point-in-time view of one managed server.
type ServerStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	State       State      `json:"state"`
	PID         int        `json:"pid,omitempty"`
	Restarts    int        `json:"restarts"`
	Tools       []string   `json:"tools,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}
