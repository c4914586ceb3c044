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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/client"
	"github.com/tombee/flint/internal/commands/completion"
	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/mcp"
)

// newMCPStatusCommand creates the 'mcp status' command.
func newMCPStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show live MCP server state",
		Long: `Show the state of every server in the running daemon, or the details of
one server.`,
		Example: `  # All servers
  flint mcp status

  # One server
  flint mcp status weather`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completion.CompleteServerNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			c, err := shared.NewClient(cfg, shared.NewCLILogger(cfg))
			if err != nil {
				return err
			}
			servers, err := c.Servers(cmd.Context())
			if err != nil {
				if client.IsUnavailable(err) {
					return shared.NewUnavailableError(
						fmt.Sprintf("flint daemon is not running at %s; 'flint mcp list' shows configured servers", shared.DaemonAddr(cfg)), err)
				}
				return shared.NewFailedError("failed to read server status", err)
			}
			if len(args) == 1 {
				return printServer(cmd.OutOrStdout(), servers, args[0])
			}
			return printServers(cmd.OutOrStdout(), servers, time.Now())
		},
	}
}

func printServers(out io.Writer, servers []mcp.ServerStatus, now time.Time) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{"servers": servers})
	}
	if len(servers) == 0 {
		fmt.Fprintln(out, "No MCP servers running.")
		return nil
	}

	fmt.Fprintln(out, shared.Header.Render(fmt.Sprintf("%-20s %-11s %-8s %-10s %-6s %s", "NAME", "STATE", "PID", "UPTIME", "TOOLS", "LAST ERROR")))
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, s := range servers {
		uptime := "-"
		if s.StartedAt != nil && s.State != mcp.StateTerminated {
			uptime = formatDuration(now.Sub(*s.StartedAt))
		}
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprint(s.PID)
		}
		fmt.Fprintf(out, "%-20s %s %-8s %-10s %-6d %s\n",
			truncate(s.Name, 20),
			shared.RenderState(s.State, 11),
			pid,
			uptime,
			len(s.Tools),
			truncate(s.LastError, 40),
		)
	}
	return nil
}

func printServer(out io.Writer, servers []mcp.ServerStatus, name string) error {
	name = mcp.NormalizeName(name)
	for _, s := range servers {
		if s.Name != name {
			continue
		}
		if shared.GetJSON() {
			return shared.EmitJSON(out, s)
		}
		fmt.Fprintf(out, "Name:      %s\n", s.Name)
		if s.Description != "" {
			fmt.Fprintf(out, "About:     %s\n", s.Description)
		}
		fmt.Fprintf(out, "State:     %s\n", shared.RenderState(s.State, 0))
		fmt.Fprintf(out, "Enabled:   %s\n", yesNo(s.Enabled))
		if s.PID > 0 {
			fmt.Fprintf(out, "PID:       %d\n", s.PID)
		}
		fmt.Fprintf(out, "Restarts:  %d\n", s.Restarts)
		if s.LastError != "" {
			fmt.Fprintf(out, "Error:     %s\n", s.LastError)
		}
		if len(s.Tools) > 0 {
			fmt.Fprintln(out, "Tools:")
			for _, t := range s.Tools {
				fmt.Fprintf(out, "  - %s\n", t)
			}
		}
		return nil
	}
	return shared.NewFailedError(fmt.Sprintf("server %q is not configured", name), nil)
}
