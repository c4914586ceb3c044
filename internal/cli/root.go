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


// Package cli builds the flint root command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for flint
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flint",
		Short: "Flint - a personal assistant over MCP servers",
		Long: `Flint runs your MCP servers, answers requests by routing them to the
right server, and runs scheduled jobs: a morning agenda, a daily diary in
your notes and a periodic Todoist export.

Run 'flint serve' to start the daemon.
Run 'flint ask list_mcps' to see the enabled servers.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	flags := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(flags.Quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(flags.JSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(flags.Config, "config", "", "Path to config file (default: ~/.config/flint/config.yaml)")
	cmd.PersistentFlags().StringVar(flags.Addr, "addr", "", "Daemon API address (default: server.listen from the config)")
	cmd.PersistentFlags().StringVar(flags.JQ, "jq", "", "Filter JSON output with a jq expression (implies --json)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
