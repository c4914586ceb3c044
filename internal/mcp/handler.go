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
	"strings"

	flintlog "github.com/tombee/flint/internal/log"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// ListCommand is the built-in command that lists enabled servers.
const ListCommand = "list_mcps"

const listHeader = "Here are the MCPs I have enabled:\n"

// Reply is what a chat transport sends back for one inbound command.
type Reply struct {
	Text      string
	Citations []string
	// NotFound is set when the command matched neither a built-in nor a
	// server.
	NotFound bool
	Err      *DispatchError
}

// Handler routes inbound chat commands to the built-ins or to a server.
type Handler struct {
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewHandler creates a command handler.
func NewHandler(registry *Registry, dispatcher *Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     flintlog.WithComponent(logger, "handler"),
	}
}

// Handle answers command with text as its argument. The reply text is
// always safe to show to the user. opts apply to server dispatches.
func (h *Handler) Handle(ctx context.Context, command, text string, opts ...DispatchOption) Reply {
	name := NormalizeName(strings.TrimPrefix(strings.TrimSpace(command), "/"))

	if name == ListCommand {
		return Reply{Text: listHeader + strings.Join(h.registry.Commands(), "\n")}
	}

	binding, err := h.registry.Resolve(name)
	if err != nil {
		h.logger.Debug("unknown command", slog.String("command", name))
		return Reply{Text: "not found", NotFound: true}
	}

	res := h.dispatcher.Dispatch(ctx, binding.Server, text, opts...)
	if res.Err != nil {
		return Reply{
			Text: pkgerrors.UserMessageOf(res.Err, GenericFailureMessage),
			Err:  res.Err,
		}
	}
	return Reply{Text: res.Text, Citations: res.Citations}
}
