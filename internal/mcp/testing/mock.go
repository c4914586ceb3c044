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

// Package testing provides scriptable sessions and dialers for exercising the
// MCP pool without spawning processes.
package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/tombee/flint/internal/mcp"
)

// Session is a scriptable mcp.Session. The zero value answers every call
// successfully; set the Func fields before handing it to a Dialer.
type Session struct {
	Tools []mcp.ToolDefinition
	Pid   int

	InitializeFunc func(ctx context.Context) (*mcp.ServerCapabilities, error)
	CallFunc       func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)
	CloseFunc      func() error

	mu      sync.Mutex
	pingErr error
	calls   int
	pings   int
	closed  bool
}

// NewSession creates a session exposing tools.
func NewSession(tools ...mcp.ToolDefinition) *Session {
	return &Session{Tools: tools}
}

// Initialize implements mcp.Session.
func (s *Session) Initialize(ctx context.Context) (*mcp.ServerCapabilities, error) {
	if s.InitializeFunc != nil {
		return s.InitializeFunc(ctx)
	}
	return &mcp.ServerCapabilities{Tools: true}, nil
}

// ListTools implements mcp.Session.
func (s *Session) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	out := make([]mcp.ToolDefinition, len(s.Tools))
	copy(out, s.Tools)
	return out, nil
}

// CallTool implements mcp.Session. Without a CallFunc it echoes the tool
// name and arguments.
func (s *Session) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	s.mu.Lock()
	s.calls++
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("transport closed")
	}
	if s.CallFunc != nil {
		return s.CallFunc(ctx, req)
	}
	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{{
			Type: "text",
			Text: fmt.Sprintf("%s: %v", req.Name, req.Arguments["prompt"]),
		}},
	}, nil
}

// Ping implements mcp.Session.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

// Close implements mcp.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}
	return nil
}

// PID implements mcp.Session.
func (s *Session) PID() int { return s.Pid }

// SetPingError makes subsequent pings fail with err; nil restores success.
func (s *Session) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Calls returns the number of tool calls received.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Pings returns the number of pings received.
func (s *Session) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DialResult is one scripted outcome of a dial.
type DialResult struct {
	Session *Session
	Err     error
}

// Dialer is a scriptable mcp.Dialer. Each server consumes its scripted
// results in order; once they run out every dial gets a fresh Session.
type Dialer struct {
	mu      sync.Mutex
	scripts map[string][]DialResult
	dialed  map[string][]*Session
	dials   map[string]int
}

// NewDialer creates an empty dialer.
func NewDialer() *Dialer {
	return &Dialer{
		scripts: make(map[string][]DialResult),
		dialed:  make(map[string][]*Session),
		dials:   make(map[string]int),
	}
}

// Script queues results for server.
func (d *Dialer) Script(server string, results ...DialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[server] = append(d.scripts[server], results...)
}

// Fail queues a failed dial for server.
func (d *Dialer) Fail(server string, err error) {
	d.Script(server, DialResult{Err: err})
}

// Dial implements mcp.Dialer.
func (d *Dialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials[desc.Name]++
	var next DialResult
	if q := d.scripts[desc.Name]; len(q) > 0 {
		next, d.scripts[desc.Name] = q[0], q[1:]
	} else {
		next.Session = NewSession(mcp.ToolDefinition{Name: "ask", Description: "Answer a question"})
	}
	if next.Err != nil {
		return nil, next.Err
	}
	d.dialed[desc.Name] = append(d.dialed[desc.Name], next.Session)
	return next.Session, nil
}

// Dials returns how many times server was dialed.
func (d *Dialer) Dials(server string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[server]
}

// Last returns the most recent session handed out for server.
func (d *Dialer) Last(server string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.dialed[server]
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// ToolCompleter returns a completer that forwards the prompt to the named
// tool as {"prompt": ...} and answers with the tool's text. Resource items
// become citations.
func ToolCompleter(tool string) mcp.Completer {
	return mcp.CompleterFunc(func(ctx context.Context, req mcp.CompletionRequest, tools mcp.ToolSession) (*mcp.Completion, error) {
		resp, err := tools.CallTool(ctx, mcp.ToolCallRequest{
			Name:      tool,
			Arguments: map[string]any{"prompt": req.Prompt},
		})
		if err != nil {
			return nil, err
		}
		out := &mcp.Completion{Text: resp.Text()}
		for _, item := range resp.Content {
			if item.URI != "" {
				out.Citations = append(out.Citations, item.URI)
			}
		}
		return out, nil
	})
}
