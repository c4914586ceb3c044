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

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	flintlog "github.com/tombee/flint/internal/log"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// maxMatrixMessage keeps single events well under homeserver limits.
const maxMatrixMessage = 4000

// MatrixConfig configures the Matrix chat sink. The access token belongs to
// an already-registered bot account.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// Validate reports the first missing setting as a ConfigError.
func (c MatrixConfig) Validate() error {
	for _, f := range []struct{ key, val string }{
		{"MATRIX_HOMESERVER", c.Homeserver},
		{"MATRIX_USER_ID", c.UserID},
		{"MATRIX_ACCESS_TOKEN", c.AccessToken},
		{"MATRIX_ROOM_ID", c.RoomID},
	} {
		if strings.TrimSpace(f.val) == "" {
			return &pkgerrors.ConfigError{Key: f.key, Reason: "is required for the Matrix sink"}
		}
	}
	return nil
}

type textSender interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// MatrixChat sends messages to a single Matrix room.
type MatrixChat struct {
	client textSender
	room   id.RoomID
	pause  time.Duration
	logger *slog.Logger
}

// NewMatrixChat creates a Matrix sink.
func NewMatrixChat(cfg MatrixConfig, logger *slog.Logger) (*MatrixChat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return newMatrixChat(client, id.RoomID(cfg.RoomID), logger), nil
}

func newMatrixChat(client textSender, room id.RoomID, logger *slog.Logger) *MatrixChat {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixChat{
		client: client,
		room:   room,
		pause:  500 * time.Millisecond,
		logger: flintlog.WithComponent(logger, "matrix"),
	}
}

// Send implements Chat. Long messages are split on line boundaries and
// numbered.
func (m *MatrixChat) Send(ctx context.Context, msg Message) error {
	chunks := splitMessage(Render(msg), maxMatrixMessage)
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunk)
		}
		if _, err := m.client.SendText(ctx, m.room, chunk); err != nil {
			m.logger.Error("matrix send failed", "room", m.room, "chunk", i+1, flintlog.Error(err))
			return fmt.Errorf("matrix send: %w", err)
		}
		if i < len(chunks)-1 && m.pause > 0 {
			select {
			case <-time.After(m.pause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	m.logger.Debug("matrix message sent", "room", m.room, "kind", msg.Kind, "chunks", len(chunks))
	return nil
}

// splitMessage cuts text into pieces of at most max bytes, preferring line
// breaks.
func splitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var out []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut <= 0 {
			cut = max
		}
		out = append(out, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
