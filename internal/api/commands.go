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

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tombee/flint/internal/httputil"
	"github.com/tombee/flint/internal/mcp"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// CommandsResponse is the body of GET /v1/commands.
type CommandsResponse struct {
	Commands []mcp.CommandBinding `json:"commands"`
}

// CommandRequest is the body of POST /v1/commands/{name}.
type CommandRequest struct {
	Message string `json:"message"`
	// Prompt replaces the server's prompt override for this request.
	Prompt string `json:"prompt,omitempty"`
}

// CommandResponse is a successful dispatch.
type CommandResponse struct {
	Server     string   `json:"server"`
	RequestID  string   `json:"request_id"`
	Text       string   `json:"text"`
	Citations  []string `json:"citations,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// ServersResponse is the body of GET /v1/mcp/servers.
type ServersResponse struct {
	Servers []mcp.ServerStatus `json:"servers"`
}

func (r *Router) handleListCommands(w http.ResponseWriter, req *http.Request) {
	bindings := []mcp.CommandBinding{}
	if r.deps.Commands != nil {
		bindings = append(bindings, r.deps.Commands.Bindings()...)
	}
	httputil.WriteJSON(w, http.StatusOK, CommandsResponse{Commands: bindings})
}

func (r *Router) handleRunCommand(w http.ResponseWriter, req *http.Request) {
	var body CommandRequest
	if err := httputil.DecodeJSON(req, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}
	if r.deps.Commands == nil || r.deps.Dispatcher == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no servers are running")
		return
	}

	binding, err := r.deps.Commands.Resolve(req.PathValue("name"))
	if err != nil {
		var nf *pkgerrors.NotFoundError
		if errors.As(err, &nf) {
			httputil.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var opts []mcp.DispatchOption
	if body.Prompt != "" {
		opts = append(opts, mcp.WithPromptOverride(body.Prompt))
	}
	res := r.deps.Dispatcher.Dispatch(req.Context(), binding.Server, body.Message, opts...)
	if res.Err != nil {
		httputil.WriteJSON(w, dispatchStatus(res.Err.Kind), httputil.ErrorResponse{
			Error:     res.Err.UserMessage(),
			Kind:      string(res.Err.Kind),
			RequestID: res.RequestID,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, CommandResponse{
		Server:     res.Server,
		RequestID:  res.RequestID,
		Text:       res.Text,
		Citations:  res.Citations,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func dispatchStatus(kind mcp.ErrorKind) int {
	switch kind {
	case mcp.KindServerUnavailable:
		return http.StatusServiceUnavailable
	case mcp.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (r *Router) handleServers(w http.ResponseWriter, req *http.Request) {
	servers := []mcp.ServerStatus{}
	if r.deps.Servers != nil {
		servers = append(servers, r.deps.Servers.Status()...)
	}
	httputil.WriteJSON(w, http.StatusOK, ServersResponse{Servers: servers})
}
