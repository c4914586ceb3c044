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
	"context"
	"log/slog"
	"time"
)

// EventType represents the type of MCP server event.
type EventType string

const (
	EventStarted    EventType = "started"
	EventStopped    EventType = "stopped"
	EventFailed     EventType = "failed"
	EventDegraded   EventType = "degraded"
	EventRestarting EventType = "restarting"
	EventTerminated EventType = "terminated"
	EventReloaded   EventType = "reloaded"
)

// ServerEvent represents a lifecycle event of one server.
type ServerEvent struct {
	Type       EventType      `json:"type"`
	ServerName string         `json:"server_name"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// EventEmitter logs server lifecycle events and counts them.
type EventEmitter struct {
	logger *slog.Logger
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger}
}

// Emit logs an event. Failures and terminations log at warn.
func (e *EventEmitter) Emit(event ServerEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	recordServerEvent(event.ServerName, event.Type)

	attrs := []any{
		"server", event.ServerName,
		"type", string(event.Type),
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	switch event.Type {
	case EventFailed, EventDegraded, EventTerminated:
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "MCP server event", attrs...)
}

// EmitStarted emits a server started event.
func (e *EventEmitter) EmitStarted(serverName string, pid, toolCount int) {
	e.Emit(ServerEvent{
		Type:       EventStarted,
		ServerName: serverName,
		Message:    "Server ready",
		Details:    map[string]any{"pid": pid, "tool_count": toolCount},
	})
}

// EmitStopped emits a server stopped event.
func (e *EventEmitter) EmitStopped(serverName string) {
	e.Emit(ServerEvent{Type: EventStopped, ServerName: serverName, Message: "Server stopped"})
}

// EmitFailed emits a start or handshake failure.
func (e *EventEmitter) EmitFailed(serverName string, err error) {
	e.Emit(ServerEvent{
		Type:       EventFailed,
		ServerName: serverName,
		Message:    "Server failed to start",
		Details:    map[string]any{"error": err.Error()},
	})
}

// EmitDegraded emits a failed probe or process fault.
func (e *EventEmitter) EmitDegraded(serverName string, reason error) {
	e.Emit(ServerEvent{
		Type:       EventDegraded,
		ServerName: serverName,
		Message:    "Server is unhealthy",
		Details:    map[string]any{"reason": reason.Error()},
	})
}

// EmitRestarting emits a restart attempt.
func (e *EventEmitter) EmitRestarting(serverName string) {
	e.Emit(ServerEvent{Type: EventRestarting, ServerName: serverName, Message: "Restarting server"})
}

// EmitTerminated emits a permanent removal for this run.
func (e *EventEmitter) EmitTerminated(serverName string, reason error) {
	details := map[string]any{}
	if reason != nil {
		details["reason"] = reason.Error()
	}
	e.Emit(ServerEvent{
		Type:       EventTerminated,
		ServerName: serverName,
		Message:    "Server terminated for the rest of this run",
		Details:    details,
	})
}
