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

import "context"

// Session is one live protocol session with a tool server. The stdio client
// is the only implementation today; other transports plug in by providing a
// Session and a Dialer for their Transport kind.
type Session interface {
	// Initialize performs the protocol capability handshake.
	Initialize(ctx context.Context) (*ServerCapabilities, error)

	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)

	// Ping is the lightweight liveness probe.
	Ping(ctx context.Context) error

	// Close ends the session. For stdio it closes the pipes and reaps the
	// process.
	Close() error

	// PID returns the server process id, or 0 when there is none.
	PID() int
}

// Dialer opens a Session for a descriptor. ctx bounds the lifetime of the
// spawned process, not just the dial.
type Dialer func(ctx context.Context, desc ServerDescriptor) (Session, error)

// ToolSession is the view of a server handed to completion providers. It is
// satisfied by *Connection and stays valid across restarts.
type ToolSession interface {
	ServerName() string
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)
}
