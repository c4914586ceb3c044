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
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/flint/internal/commands/shared"
	"github.com/tombee/flint/internal/mcp"
)

// newMCPValidateCommand creates the 'mcp validate' command.
func newMCPValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a descriptor file",
		Long: `Parse a descriptor file the way the daemon does on start and reload,
without starting any server. Defaults to MCP_CONFIG_PATH.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := shared.LoadConfig()
				if err != nil {
					return err
				}
				path = cfg.MCP.ConfigPath
			}

			descs, err := mcp.LoadDescriptorFile(path, os.LookupEnv)
			if err != nil {
				return shared.NewConfigError(fmt.Sprintf("%s is invalid", path), err)
			}
			enabled := 0
			for _, d := range descs {
				if d.Enabled {
					enabled++
				}
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
					"path": path, "valid": true, "servers": len(descs), "enabled": enabled,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("%s is valid: %d servers, %d enabled", path, len(descs), enabled)))
			return nil
		},
	}
}
