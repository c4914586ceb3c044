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

// Package sink defines where flint's artifacts go: chat messages for
// commands and the agenda, files for the diary and task export.
package sink

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	flintlog "github.com/tombee/flint/internal/log"
)

// Message is one chat artifact.
type Message struct {
	// Kind names the producer, e.g. a job kind or "command".
	Kind      string
	Text      string
	Citations []string
}

// Chat delivers messages to the user.
type Chat interface {
	Send(ctx context.Context, msg Message) error
}

// File persists named artifacts relative to a root the implementation owns.
type File interface {
	// ReadFile returns fs.ErrNotExist (wrapped) when name does not exist.
	ReadFile(name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, data []byte) error
}

// Render formats msg as plain text, with citations listed after the body.
func Render(msg Message) string {
	if len(msg.Citations) == 0 {
		return msg.Text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg.Text, "\n"))
	b.WriteString("\n\nSources:")
	for _, c := range msg.Citations {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String()
}

// LogChat writes messages to the log. It is the chat sink when no transport
// is configured.
type LogChat struct {
	logger *slog.Logger
}

// NewLogChat creates a log-backed chat sink.
func NewLogChat(logger *slog.Logger) *LogChat {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChat{logger: flintlog.WithComponent(logger, "sink")}
}

// Send implements Chat.
func (l *LogChat) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "chat message",
		"kind", msg.Kind,
		"text", Render(msg),
	)
	return nil
}

// Buffer records messages in memory.
type Buffer struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// Send implements Chat.
func (b *Buffer) Send(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, msg)
	return nil
}

// FailWith makes subsequent sends fail with err.
func (b *Buffer) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Messages returns a copy of everything sent so far.
func (b *Buffer) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Multi fans a message out to several sinks. Every sink is attempted; the
// first error is returned.
type Multi []Chat

// Send implements Chat.
func (m Multi) Send(ctx context.Context, msg Message) error {
	var first error
	for _, c := range m {
		if err := c.Send(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
