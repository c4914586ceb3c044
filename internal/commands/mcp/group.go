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
	"github.com/spf13/cobra"
)

// NewMCPCommand creates the mcp command for MCP server inspection.
func NewMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect MCP (Model Context Protocol) servers",
		Long: `Inspect the MCP servers flint runs.

Commands:
  list      List the servers in the descriptor file
  status    Show live server state from the running daemon
  validate  Check the descriptor file without starting anything`,
	}

	cmd.AddCommand(newMCPListCommand())
	cmd.AddCommand(newMCPStatusCommand())
	cmd.AddCommand(newMCPValidateCommand())

	return cmd
}
