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
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	flintlog "github.com/tombee/flint/internal/log"
)

// CompletionRequest is one prompt to answer using a server's tools.
type CompletionRequest struct {
	Server    string
	RequestID string
	Prompt    string
}

// Completion is the answer produced for a CompletionRequest.
type Completion struct {
	Text string
	// Citations are resource URIs the server attached to tool results.
	Citations []string
}

// Completer turns a prompt into an answer, calling tools on the session as
// needed. The generative model lives behind this interface.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest, tools ToolSession) (*Completion, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest, tools ToolSession) (*Completion, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest, tools ToolSession) (*Completion, error) {
	return f(ctx, req, tools)
}

// Result is the uniform outcome of a dispatch. Exactly one of Text and Err
// is meaningful.
type Result struct {
	Server    string
	RequestID string
	Text      string
	Citations []string
	Err       *DispatchError
	Duration  time.Duration
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Error returns Err as an error, or nil.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

type dispatchOptions struct {
	promptOverride string
	hasOverride    bool
	timeout        time.Duration
}

// DispatchOption customizes a single dispatch.
type DispatchOption func(*dispatchOptions)

// WithPromptOverride replaces the descriptor's prompt override for this
// request.
func WithPromptOverride(prompt string) DispatchOption {
	return func(o *dispatchOptions) {
		o.promptOverride = prompt
		o.hasOverride = true
	}
}

// WithTimeout replaces the descriptor's request timeout for this request.
func WithTimeout(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) { o.timeout = d }
}

// Dispatcher runs single requests against pool connections.
type Dispatcher struct {
	pool      *Pool
	completer Completer
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(pool *Pool, completer Completer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pool:      pool,
		completer: completer,
		logger:    flintlog.WithComponent(logger, "dispatcher"),
	}
}

// BuildPrompt places the override before the message, separated by a blank
// line. An empty override leaves the message as is.
func BuildPrompt(override, message string) string {
	override = strings.TrimSpace(override)
	if override == "" {
		return message
	}
	return override + "\n\n" + message
}

// Dispatch sends message to server and waits for the answer. It never
// panics or returns a bare error: every failure is classified into the
// Result. Timeouts do not affect the server; process faults are reported to
// the pool's restart policy.
func (d *Dispatcher) Dispatch(ctx context.Context, server, message string, opts ...DispatchOption) Result {
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	name := NormalizeName(server)
	res := Result{Server: name, RequestID: uuid.NewString()}
	start := time.Now()
	logger := d.logger.With(
		slog.String(flintlog.ServerKey, name),
		slog.String(flintlog.RequestIDKey, res.RequestID),
	)

	conn, ok := d.pool.Get(name)
	if !ok {
		res.Err = &DispatchError{Kind: KindServerUnavailable, Server: name, RequestID: res.RequestID, Cause: ErrServerNotFound(name)}
		logger.Info("dispatch to unavailable server")
		recordDispatch(name, KindServerUnavailable, 0)
		return res
	}

	desc := conn.Descriptor()
	override := desc.PromptOverride
	if o.hasOverride {
		override = o.promptOverride
	}
	timeout := desc.Timeout
	if o.timeout > 0 {
		timeout = o.timeout
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reqCtx, done := conn.Track(reqCtx, res.RequestID)
	defer done()

	completion, err := d.completer.Complete(reqCtx, CompletionRequest{
		Server:    name,
		RequestID: res.RequestID,
		Prompt:    BuildPrompt(override, message),
	}, conn)
	res.Duration = time.Since(start)

	if err == nil && completion == nil {
		err = errors.New("completion provider returned no result")
	}
	if err != nil {
		kind := d.classify(ctx, reqCtx, conn, err)
		res.Err = &DispatchError{Kind: kind, Server: name, RequestID: res.RequestID, Cause: err}
		recordDispatch(name, kind, res.Duration)

		switch kind {
		case KindTimeout:
			logger.Warn("dispatch timed out", slog.Duration("timeout", timeout))
		case KindProcessFault:
			logger.Error("server process fault during dispatch", flintlog.Error(err))
			d.pool.reportFault(conn, err)
		case KindProtocolError:
			logger.Error("dispatch failed", flintlog.Error(err))
		default:
			logger.Info("dispatch aborted", flintlog.Error(err))
		}
		return res
	}

	conn.markHealthy()
	res.Text = completion.Text
	res.Citations = completion.Citations
	recordDispatch(name, "", res.Duration)
	logger.Debug("dispatch completed", slog.Int64(flintlog.DurationKey, res.Duration.Milliseconds()))
	return res
}

func (d *Dispatcher) classify(parent, reqCtx context.Context, conn *Connection, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}

	// Only failures of the session itself say anything about the process.
	// Completion provider errors can wrap io.EOF too.
	var sessErr *sessionError
	fromSession := errors.As(err, &sessErr)

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		switch mcpErr.Code {
		case ErrorCodeNotReady, ErrorCodeNotFound:
			return KindServerUnavailable
		case ErrorCodeConnectionClosed:
			if fromSession {
				return KindProcessFault
			}
		}
	}

	if errors.Is(reqCtx.Err(), context.Canceled) {
		// Either the caller gave up or teardown cancelled the request.
		return KindServerUnavailable
	}

	if (fromSession && isTransportClosed(sessErr.err)) || !conn.processAlive() {
		return KindProcessFault
	}
	return KindProtocolError
}

var closedTransportMarkers = []string{
	"broken pipe",
	"file already closed",
	"transport closed",
	"transport is closed",
	"connection closed",
	"process exited",
}

func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedTransportMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
