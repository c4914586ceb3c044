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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/flint/internal/lifecycle"
)

// errPoolStopped is returned from a bring-up that lost the race with Stop.
var errPoolStopped = errors.New("server pool stopped")

// Connection is one managed tool server. It owns its Session exclusively and
// outlives the restart the pool may grant it, so a *Connection obtained
// before a restart keeps working after it.
type Connection struct {
	desc   ServerDescriptor
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	session   Session
	tools     []ToolDefinition
	startedAt time.Time
	lastErr   error
	restarts  int
	// restartUsed is set when the restart budget of the current failure
	// episode is spent. A healthy probe or request clears it.
	restartUsed bool

	pendingMu sync.Mutex
	pending   map[string]context.CancelFunc
}

func newConnection(desc ServerDescriptor, logger *slog.Logger) *Connection {
	return &Connection{
		desc:    desc,
		logger:  logger.With(slog.String("server", desc.Name)),
		state:   StateStarting,
		pending: make(map[string]context.CancelFunc),
	}
}

// Descriptor returns the descriptor the connection was created from.
func (c *Connection) Descriptor() ServerDescriptor {
	return c.desc
}

// ServerName implements ToolSession.
func (c *Connection) ServerName() string {
	return c.desc.Name
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ListTools implements ToolSession. Tools fetched during the handshake are
// served from memory.
func (c *Connection) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	tools := c.tools
	c.mu.RUnlock()
	if tools != nil {
		return tools, nil
	}

	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	tools, err = sess.ListTools(ctx)
	if err != nil {
		return nil, &sessionError{err: err}
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

// CallTool implements ToolSession.
func (c *Connection) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	resp, err := sess.CallTool(ctx, req)
	if err != nil {
		return nil, &sessionError{err: err}
	}
	return resp, nil
}

// sessionError marks a failure returned by the server session, as opposed to
// one raised by the completion provider around it.
type sessionError struct {
	err error
}

func (e *sessionError) Error() string { return e.err.Error() }

func (e *sessionError) Unwrap() error { return e.err }

func (c *Connection) current() (Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady || c.session == nil {
		return nil, ErrServerNotReady(c.desc.Name, c.state)
	}
	return c.session, nil
}

// Track registers an in-flight request so teardown can cancel it. The
// returned func must be called when the request completes.
func (c *Connection) Track(ctx context.Context, requestID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	c.pendingMu.Lock()
	c.pending[requestID] = cancel
	n := len(c.pending)
	c.pendingMu.Unlock()
	recordPending(c.desc.Name, n)

	return ctx, func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		n := len(c.pending)
		c.pendingMu.Unlock()
		recordPending(c.desc.Name, n)
		cancel()
	}
}

// Pending returns the ids of in-flight requests, sorted.
func (c *Connection) Pending() []string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Connection) cancelPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, cancel := range c.pending {
		cancel()
		delete(c.pending, id)
	}
	recordPending(c.desc.Name, 0)
}

// open dials a fresh session and performs the handshake. lifetime bounds the
// process; ctx and timeout bound only the handshake.
func (c *Connection) open(ctx, lifetime context.Context, dial Dialer, timeout, grace time.Duration) error {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return errPoolStopped
	}
	c.state = StateStarting
	c.mu.Unlock()
	recordState(c.desc.Name, StateStarting)

	sess, err := dial(lifetime, c.desc)
	if err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := sess.Initialize(hctx); err != nil {
		_ = closeSession(sess, grace)
		return ErrHandshakeFailed(c.desc.Name, err)
	}

	tools, err := sess.ListTools(hctx)
	if err != nil {
		c.logger.Debug("tool listing failed after handshake", "error", err)
		tools = nil
	}

	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		_ = closeSession(sess, grace)
		return errPoolStopped
	}
	c.session = sess
	c.tools = tools
	c.state = StateReady
	c.startedAt = time.Now()
	c.lastErr = nil
	c.mu.Unlock()
	recordState(c.desc.Name, StateReady)
	return nil
}

func (c *Connection) setState(state State, cause error) {
	c.mu.Lock()
	c.state = state
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()
	recordState(c.desc.Name, state)
}

// markDegraded moves a Ready connection to Degraded. It returns false when
// the connection was not Ready, so only one caller handles a fault.
func (c *Connection) markDegraded(cause error) bool {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return false
	}
	c.state = StateDegraded
	c.lastErr = cause
	c.mu.Unlock()
	recordState(c.desc.Name, StateDegraded)
	return true
}

// takeRestart consumes the restart budget of the current episode.
func (c *Connection) takeRestart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restartUsed {
		return false
	}
	c.restartUsed = true
	c.restarts++
	return true
}

func (c *Connection) markHealthy() {
	c.mu.Lock()
	c.restartUsed = false
	c.mu.Unlock()
}

func (c *Connection) detach() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.session
	c.session = nil
	c.tools = nil
	return sess
}

// probe pings the session and checks the process is still alive.
func (c *Connection) probe(ctx context.Context, timeout time.Duration) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if pid := sess.PID(); pid > 0 && !lifecycle.IsProcessRunning(pid) {
		return fmt.Errorf("process %d exited: %w", pid, ErrConnectionClosed(c.desc.Name))
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sess.Ping(pctx)
}

// processAlive reports false only when the process is known to be gone.
func (c *Connection) processAlive() bool {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess == nil {
		return false
	}
	pid := sess.PID()
	return pid == 0 || lifecycle.IsProcessRunning(pid)
}

// shutdown terminates the connection for good: pending requests are
// cancelled and the process is stopped, by force if needed.
func (c *Connection) shutdown(grace time.Duration) error {
	c.setState(StateTerminated, nil)
	c.cancelPending()
	sess := c.detach()
	if sess == nil {
		return nil
	}
	return closeSession(sess, grace)
}

// Status returns a snapshot for display.
func (c *Connection) Status() ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := ServerStatus{
		Name:        c.desc.Name,
		Description: c.desc.Description,
		Enabled:     c.desc.Enabled,
		State:       c.state,
		Restarts:    c.restarts,
	}
	if c.session != nil {
		st.PID = c.session.PID()
	}
	for _, t := range c.tools {
		st.Tools = append(st.Tools, t.Name)
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		st.StartedAt = &started
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// closeSession closes sess, then escalates SIGTERM and SIGKILL on its
// process if it is still alive after grace.
func closeSession(sess Session, grace time.Duration) error {
	pid := sess.PID()

	done := make(chan error, 1)
	go func() { done <- sess.Close() }()

	var closeErr error
	select {
	case closeErr = <-done:
	case <-time.After(grace):
		closeErr = fmt.Errorf("close did not finish within %s", grace)
	}

	if pid > 0 && lifecycle.IsProcessRunning(pid) {
		if err := lifecycle.StopProcess(pid, grace); err != nil {
			return errors.Join(closeErr, err)
		}
		return nil
	}
	return closeErr
}
