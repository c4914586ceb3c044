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

package ask

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/api"
	"github.com/tombee/flint/internal/client"
	"github.com/tombee/flint/internal/commands/completion"
	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/config"
	"github.com/tombee/flint/internal/daemon"
	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/sink"
)

type options struct {
	prompt string
	local  bool
}

// NewCommand creates the ask command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "ask <server> <message...>",
		Short: "Send one request to an MCP server",
		Long: `Send a message to an MCP server and print the answer.

The request goes through the running daemon when one is reachable.
Otherwise flint starts the named server locally, asks, and stops it.
'flint ask list_mcps' lists the enabled servers.`,
		Example: `  # Ask the weather server
  flint ask weather "Will it rain in Prague tomorrow?"

  # Replace the server's configured prompt for this request
  flint ask calendar --prompt "Answer in one line." "What's next today?"

  # Never use the daemon
  flint ask --local weather "Forecast for Brno"`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompleteCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "Prompt placed before the message, replacing the server's own")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Start the server locally instead of using the daemon")

	return cmd
}

func runAsk(ctx context.Context, out io.Writer, server, message string, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	logger := shared.NewCLILogger(cfg)
	name := mcp.NormalizeName(strings.TrimPrefix(server, "/"))

	if name != mcp.ListCommand && strings.TrimSpace(message) == "" {
		return shared.NewFailedError("a message is required", nil)
	}

	if !opts.local && name != mcp.ListCommand {
		c, err := shared.NewClient(cfg, logger)
		if err != nil {
			return err
		}
		resp, err := c.Ask(ctx, name, message, opts.prompt)
		switch {
		case err == nil:
			return printReply(out, resp.Server, resp.Text, resp.Citations)
		case client.IsUnavailable(err):
			logger.Debug("daemon not reachable; asking locally", "addr", shared.DaemonAddr(cfg))
		default:
			return askError(name, err)
		}
	}

	return askLocal(ctx, out, cfg, logger, name, message, opts)
}

func askLocal(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, name, message string, opts options) error {
	stackOpts := daemon.StackOptions{ProbeInterval: -1}
	if name != mcp.ListCommand {
		stackOpts.Only = []string{name}
	}
	stack, err := daemon.OpenStack(ctx, cfg, logger, stackOpts)
	if err != nil {
		return shared.NewConfigError("failed to load MCP servers", err)
	}
	defer stack.Close(context.WithoutCancel(ctx))

	var dispatchOpts []mcp.DispatchOption
	if opts.prompt != "" {
		dispatchOpts = append(dispatchOpts, mcp.WithPromptOverride(opts.prompt))
	}
	reply := stack.Handler.Handle(ctx, name, message, dispatchOpts...)
	switch {
	case reply.NotFound:
		return shared.NewUnavailableError(fmt.Sprintf("server %q is not configured or failed to start", name), nil)
	case reply.Err != nil:
		return shared.NewFailedError(reply.Text, reply.Err)
	}
	return printReply(out, name, reply.Text, reply.Citations)
}

func askError(name string, err error) error {
	if client.IsNotFound(err) {
		return shared.NewUnavailableError(fmt.Sprintf("server %q is not running in the daemon", name), err)
	}
	return shared.NewFailedError("request failed", err)
}

func printReply(out io.Writer, server, text string, citations []string) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, api.CommandResponse{Server: server, Text: text, Citations: citations})
	}
	_, err := fmt.Fprintln(out, sink.Render(sink.Message{Text: text, Citations: citations}))
	return err
}
